package smtp

import (
	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 mechanism used by Microsoft 365 and
// Gmail. go-sasl ships OAUTHBEARER but not this older variant.
type xoauth2Client struct {
	username string
	token    string
}

var _ sasl.Client = (*xoauth2Client)(nil)

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := "user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01"
	return "XOAUTH2", []byte(ir), nil
}

// Next answers the JSON error challenge with an empty response so the relay
// sends its final failure reply.
func (c *xoauth2Client) Next([]byte) ([]byte, error) {
	return []byte{}, nil
}
