package pg

import (
	"mellium.im/sasl"

	"github.com/tidegate/pg/internal"
)

// Authenticator computes SASL responses for the connection. The
// connection frames the exchange; the authenticator owns the
// cryptography.
type Authenticator interface {
	// Start picks a mechanism from the server's list and returns its
	// name together with the initial response bytes.
	Start(mechanisms []string) (mechanism string, initialResponse []byte, err error)
	// Next computes the response to a server challenge.
	Next(challenge []byte) (response []byte, err error)
	// Finish verifies the server-final data.
	Finish(data []byte) error
}

// scramAuth is the default Authenticator: SCRAM-SHA-256 backed by
// mellium.im/sasl.
type scramAuth struct {
	user     string
	password string
	client   *sasl.Negotiator
}

var _ Authenticator = (*scramAuth)(nil)

func newSCRAMAuth(user, password string) *scramAuth {
	return &scramAuth{
		user:     user,
		password: password,
	}
}

func (a *scramAuth) Start(mechanisms []string) (string, []byte, error) {
	var mech sasl.Mechanism
	for _, name := range mechanisms {
		// SCRAM-SHA-256-PLUS needs channel binding, which requires
		// owning the TLS layer; the transport is external here.
		if name == sasl.ScramSha256.Name {
			mech = sasl.ScramSha256
			break
		}
	}
	if mech.Name == "" {
		return "", nil, internal.Errorf(
			"pg: no supported SASL mechanism in server list %v", mechanisms)
	}

	creds := sasl.Credentials(func() (Username, Password, Identity []byte) {
		return []byte(a.user), []byte(a.password), nil
	})
	a.client = sasl.NewClient(mech, creds)

	_, resp, err := a.client.Step(nil)
	if err != nil {
		return "", nil, err
	}
	return mech.Name, resp, nil
}

func (a *scramAuth) Next(challenge []byte) ([]byte, error) {
	if a.client == nil {
		return nil, internal.Errorf("pg: SASL challenge before negotiation started")
	}
	_, resp, err := a.client.Step(challenge)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *scramAuth) Finish(data []byte) error {
	if a.client == nil {
		return internal.Errorf("pg: SASL final data before negotiation started")
	}
	if _, _, err := a.client.Step(data); err != nil {
		return err
	}
	if a.client.State() != sasl.ValidServerResponse {
		return internal.Errorf("pg: SASL: invalid server signature")
	}
	return nil
}
