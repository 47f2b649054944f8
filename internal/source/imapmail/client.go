package imapmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/source"
)

// Account pairs an account configuration with its resolved password.
// Passwords come from the system keyring and are never persisted here.
type Account struct {
	Config   model.AccountConfig
	Password string
}

// connect dials the account's IMAP server and authenticates. The dial
// honors ctx, so caller timeouts bound unreachable servers. The caller
// is responsible for calling Logout/Close on the returned client.
func connect(ctx context.Context, acct Account) (*imapclient.Client, error) {
	addr := acct.Config.Host + ":" + acct.Config.Port

	var client *imapclient.Client

	if acct.Config.TLS {
		dialer := tls.Dialer{NetDialer: &net.Dialer{}}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &source.ConnectionError{
				Store: acct.Config.Label,
				Err:   fmt.Errorf("connecting to IMAP %s: %w", addr, err),
			}
		}
		client = imapclient.New(conn, nil)
	} else {
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &source.ConnectionError{
				Store: acct.Config.Label,
				Err:   fmt.Errorf("connecting to IMAP %s: %w", addr, err),
			}
		}
		upgraded, err := imapclient.NewStartTLS(conn, nil)
		if err != nil {
			_ = conn.Close()
			return nil, &source.ConnectionError{
				Store: acct.Config.Label,
				Err:   fmt.Errorf("starting TLS with %s: %w", addr, err),
			}
		}
		client = upgraded
	}

	if err := client.Login(acct.Config.Username, acct.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.ConnectionError{
			Store: acct.Config.Label,
			Err: fmt.Errorf(
				"authentication failed for %s: %w", acct.Config.Username, err,
			),
		}
	}

	return client, nil
}
