package cli

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/platinummonkey/idsite/pkg/idsite"
)

func newURLCommand() *Command {
	cmd := &Command{
		Name:        "url",
		Description: "Build a signed ID Site redirect URL",
		Flags:       flag.NewFlagSet("url", flag.ContinueOnError),
		Run:         runURL,
	}

	cmd.Flags.String("app", "", "Application href (default $IDSITE_APPLICATION_HREF)")
	cmd.Flags.String("callback", "", "Callback URI ID Site redirects back to")
	cmd.Flags.String("state", "", "Opaque state echoed back in the response")
	cmd.Flags.String("path", "", "ID Site page, for example /#/register")
	cmd.Flags.String("org", "", "Organization name key")
	cmd.Flags.String("use-subdomain", "", "Use the organization subdomain (true/false, only with -org)")
	cmd.Flags.String("show-org-field", "", "Show the organization field (true/false)")
	cmd.Flags.String("sp-token", "", "Token previously issued by ID Site")
	cmd.Flags.Bool("logout", false, "Build a logout URL")
	cmd.Flags.String("log-level", "warn", "Log level")
	addKeyFlags(cmd.Flags)

	return cmd
}

func runURL(args []string) error {
	cmd := newURLCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	fs := cmd.Flags
	logger := setupLogger(fs.Lookup("log-level").Value.String())

	key, err := requireKey(fs)
	if err != nil {
		return err
	}
	app := flagOrEnv(fs, "app", "IDSITE_APPLICATION_HREF")
	if app == "" {
		return fmt.Errorf("application href is required")
	}

	b := idsite.NewURLBuilder(key, app).
		SetCallbackURI(fs.Lookup("callback").Value.String())

	if v := fs.Lookup("state").Value.String(); v != "" {
		b.SetState(v)
	}
	if v := fs.Lookup("path").Value.String(); v != "" {
		b.SetPath(v)
	}
	if v := fs.Lookup("sp-token").Value.String(); v != "" {
		b.SetSpToken(v)
	}
	if org := fs.Lookup("org").Value.String(); org != "" {
		b.SetOrganizationNameKey(org)
		use, err := optionalBool(fs, "use-subdomain")
		if err != nil {
			return err
		}
		if use != nil {
			b.SetUseSubdomain(*use)
		}
	}
	show, err := optionalBool(fs, "show-org-field")
	if err != nil {
		return err
	}
	if show != nil {
		b.SetShowOrganizationField(*show)
	}
	if fs.Lookup("logout").Value.String() == "true" {
		b.ForLogout()
	}

	redirect, err := b.Build()
	if err != nil {
		return fmt.Errorf("failed to build URL: %w", err)
	}

	logger.WithField("key_id", key.ID).WithField("logout", b.IsLogout()).Debug("Built ID Site URL")
	fmt.Println(redirect)
	return nil
}

func optionalBool(fs *flag.FlagSet, name string) (*bool, error) {
	v := fs.Lookup(name).Value.String()
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean for -%s: %s", name, v)
	}
	return &b, nil
}
