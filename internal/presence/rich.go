package presence

import (
	"github.com/hugolgst/rich-go/client"
)

// richClient is the real Discord IPC transport.
type richClient struct{}

func (richClient) Login(appID string) error {
	return client.Login(appID)
}

func (richClient) SetActivity(a Activity) error {
	return client.SetActivity(client.Activity{
		Details:    a.Details,
		State:      a.State,
		LargeImage: a.LargeImage,
		LargeText:  a.LargeText,
		SmallImage: a.SmallImage,
		SmallText:  a.SmallText,
		Timestamps: &client.Timestamps{
			Start: a.Start,
			End:   a.End,
		},
	})
}

func (richClient) Logout() {
	client.Logout()
}
