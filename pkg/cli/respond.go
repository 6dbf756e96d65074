package cli

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/idsite/pkg/idsite"
	"github.com/platinummonkey/idsite/pkg/idsitetest"
)

func newRespondCommand() *Command {
	cmd := &Command{
		Name:        "respond",
		Description: "Answer a redirect URL the way ID Site would, for local testing",
		Flags:       flag.NewFlagSet("respond", flag.ContinueOnError),
		Run:         runRespond,
	}

	cmd.Flags.String("redirect", "", "Redirect URL built by the application (answers its cb_uri and state)")
	cmd.Flags.String("callback", "", "Callback URI, when no redirect URL is given")
	cmd.Flags.String("status", "", "REGISTERED, AUTHENTICATED or LOGOUT (default LOGOUT for logout redirects, else AUTHENTICATED)")
	cmd.Flags.String("account", "", "Account href (sub claim)")
	cmd.Flags.Bool("new", false, "Mark the account as newly created")
	cmd.Flags.String("state", "", "State to echo back")
	cmd.Flags.String("issuer", "https://id.test", "iss claim")
	cmd.Flags.Duration("ttl", idsitetest.DefaultTTL, "Token lifetime")
	cmd.Flags.Int("error-code", 0, "Respond with an ID Site error of this code instead")
	cmd.Flags.String("error-message", "", "Message of the error response")
	cmd.Flags.String("log-level", "warn", "Log level")
	addKeyFlags(cmd.Flags)

	return cmd
}

func runRespond(args []string) error {
	cmd := newRespondCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	fs := cmd.Flags
	logger := setupLogger(fs.Lookup("log-level").Value.String())

	key, err := requireKey(fs)
	if err != nil {
		return err
	}

	site := idsitetest.NewSite(key)
	site.Issuer = fs.Lookup("issuer").Value.String()
	if ttl, err := time.ParseDuration(fs.Lookup("ttl").Value.String()); err == nil && ttl > 0 {
		site.TTL = ttl
	}

	resp := idsitetest.Response{
		AccountHref: fs.Lookup("account").Value.String(),
		IsNewSub:    fs.Lookup("new").Value.String() == "true",
		State:       fs.Lookup("state").Value.String(),
	}
	if v := fs.Lookup("status").Value.String(); v != "" {
		status, err := idsite.ParseStatus(strings.ToUpper(v))
		if err != nil {
			return err
		}
		resp.Status = status
	}
	if code, _ := strconv.Atoi(fs.Lookup("error-code").Value.String()); code != 0 {
		resp.Error = &idsite.RemoteError{
			Code:    code,
			Status:  400,
			Message: fs.Lookup("error-message").Value.String(),
		}
	}

	var callbackURL string
	if redirect := fs.Lookup("redirect").Value.String(); redirect != "" {
		req, err := site.DecodeRequest(redirect)
		if err != nil {
			return fmt.Errorf("failed to decode redirect: %w", err)
		}
		if resp.Status == "" && !req.Logout {
			resp.Status = idsite.StatusAuthenticated
		}
		callbackURL, err = site.Respond(redirect, resp)
		if err != nil {
			return fmt.Errorf("failed to mint response: %w", err)
		}
	} else {
		cb := fs.Lookup("callback").Value.String()
		if cb == "" {
			return fmt.Errorf("-redirect or -callback is required")
		}
		if resp.Status == "" {
			resp.Status = idsite.StatusAuthenticated
		}
		callbackURL, err = site.CallbackURL(cb, resp)
	}
	if err != nil {
		return fmt.Errorf("failed to mint response: %w", err)
	}

	logger.WithField("status", resp.Status).Debug("Minted ID Site response")
	fmt.Println(callbackURL)
	return nil
}
