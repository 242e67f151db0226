package state

import (
	"database/sql"
	"time"
)

// LastfmSession is a stored scrobbling session.
type LastfmSession struct {
	Username   string
	SessionKey string
	Subscriber bool
	LinkedAt   time.Time
}

// PendingScrobble is a scrobble queued for later submission.
type PendingScrobble struct {
	ID              int64
	Artist          string
	Track           string
	Album           string
	AlbumArtist     string
	TrackNumber     int
	DurationSeconds int
	Timestamp       time.Time
	Attempts        int
	LastError       string
	CreatedAt       time.Time
}

// GetLastfmSession returns the stored session, or nil if not linked.
func (m *Manager) GetLastfmSession() (*LastfmSession, error) {
	var username, sessionKey string
	var subscriber int
	var linkedAt int64

	err := m.db.QueryRow(`
		SELECT username, session_key, subscriber, linked_at FROM lastfm_session WHERE id = 1
	`).Scan(&username, &sessionKey, &subscriber, &linkedAt)

	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // nil session means not linked, not an error
	}
	if err != nil {
		return nil, err
	}

	return &LastfmSession{
		Username:   username,
		SessionKey: sessionKey,
		Subscriber: subscriber != 0,
		LinkedAt:   time.Unix(linkedAt, 0),
	}, nil
}

// SaveLastfmSession stores the session after successful authentication.
func (m *Manager) SaveLastfmSession(s LastfmSession) error {
	subscriber := 0
	if s.Subscriber {
		subscriber = 1
	}
	_, err := m.db.Exec(`
		INSERT INTO lastfm_session (id, username, session_key, subscriber, linked_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			session_key = excluded.session_key,
			subscriber = excluded.subscriber,
			linked_at = excluded.linked_at
	`, s.Username, s.SessionKey, subscriber, time.Now().Unix())
	return err
}

// DeleteLastfmSession removes the stored session (unlink).
func (m *Manager) DeleteLastfmSession() error {
	_, err := m.db.Exec(`DELETE FROM lastfm_session WHERE id = 1`)
	return err
}

// SavePendingAuthToken stores a token awaiting browser authorization.
func (m *Manager) SavePendingAuthToken(token string) error {
	_, err := m.db.Exec(`
		INSERT INTO lastfm_auth_token (id, token, requested_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			requested_at = excluded.requested_at
	`, token, time.Now().Unix())
	return err
}

// GetPendingAuthToken returns the pending token, or empty if none.
func (m *Manager) GetPendingAuthToken() (string, error) {
	var token string
	err := m.db.QueryRow(`SELECT token FROM lastfm_auth_token WHERE id = 1`).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// ClearPendingAuthToken removes the pending token.
func (m *Manager) ClearPendingAuthToken() error {
	_, err := m.db.Exec(`DELETE FROM lastfm_auth_token WHERE id = 1`)
	return err
}

// AddPendingScrobble queues a scrobble for later submission.
func (m *Manager) AddPendingScrobble(s PendingScrobble) error {
	_, err := m.db.Exec(`
		INSERT INTO lastfm_pending_scrobbles
		(artist, track, album, album_artist, track_number, duration_seconds, timestamp, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?)
	`, s.Artist, s.Track, s.Album, s.AlbumArtist, s.TrackNumber, s.DurationSeconds,
		s.Timestamp.Unix(), time.Now().Unix())
	return err
}

// GetPendingScrobbles returns all pending scrobbles ordered by creation time.
func (m *Manager) GetPendingScrobbles() ([]PendingScrobble, error) {
	rows, err := m.db.Query(`
		SELECT id, artist, track, album, album_artist, track_number, duration_seconds,
		       timestamp, attempts, last_error, created_at
		FROM lastfm_pending_scrobbles
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scrobbles []PendingScrobble
	for rows.Next() {
		var s PendingScrobble
		var album, albumArtist, lastError sql.NullString
		var timestamp, createdAt int64

		err := rows.Scan(
			&s.ID, &s.Artist, &s.Track, &album, &albumArtist, &s.TrackNumber,
			&s.DurationSeconds, &timestamp, &s.Attempts, &lastError, &createdAt,
		)
		if err != nil {
			return nil, err
		}

		s.Album = album.String
		s.AlbumArtist = albumArtist.String
		s.LastError = lastError.String
		s.Timestamp = time.Unix(timestamp, 0)
		s.CreatedAt = time.Unix(createdAt, 0)

		scrobbles = append(scrobbles, s)
	}

	return scrobbles, rows.Err()
}

// DeletePendingScrobble removes a successfully submitted scrobble.
func (m *Manager) DeletePendingScrobble(id int64) error {
	_, err := m.db.Exec(`DELETE FROM lastfm_pending_scrobbles WHERE id = ?`, id)
	return err
}

// UpdatePendingScrobbleAttempt increments the attempt count and records the
// last error message.
func (m *Manager) UpdatePendingScrobbleAttempt(id int64, errMsg string) error {
	_, err := m.db.Exec(`
		UPDATE lastfm_pending_scrobbles
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, errMsg, id)
	return err
}

// DeleteOldPendingScrobbles removes pending scrobbles older than maxAge.
func (m *Manager) DeleteOldPendingScrobbles(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).Unix()
	_, err := m.db.Exec(`DELETE FROM lastfm_pending_scrobbles WHERE created_at < ?`, cutoff)
	return err
}
