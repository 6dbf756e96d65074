package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/platinummonkey/idsite/pkg/idsite"
	"github.com/platinummonkey/idsite/pkg/nonce"
	"github.com/platinummonkey/idsite/pkg/observability"
)

func newInspectCommand() *Command {
	cmd := &Command{
		Name:        "inspect",
		Description: "Decode an ID Site token, verifying it when a key is given",
		Flags:       flag.NewFlagSet("inspect", flag.ContinueOnError),
		Run:         runInspect,
	}

	cmd.Flags.String("token", "", "Token or URL carrying jwtRequest/jwtResponse (- reads stdin)")
	cmd.Flags.Duration("skew", 0, "Clock skew allowed when checking expiry")
	cmd.Flags.String("log-level", "warn", "Log level")
	addKeyFlags(cmd.Flags)

	return cmd
}

// Inspection is the output of the inspect command.
type Inspection struct {
	Header   map[string]interface{} `json:"header"`
	Claims   idsite.Claims          `json:"claims"`
	Verified bool                   `json:"verified"`
	Result   *idsite.AccountResult  `json:"result,omitempty"`
	Error    *InspectionError       `json:"error,omitempty"`
}

// InspectionError describes why verification failed.
type InspectionError struct {
	Code    idsite.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func runInspect(args []string) error {
	cmd := newInspectCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	fs := cmd.Flags
	logger := setupLogger(fs.Lookup("log-level").Value.String())

	input := fs.Lookup("token").Value.String()
	if input == "" && fs.NArg() > 0 {
		input = fs.Arg(0)
	}
	raw, err := readToken(input)
	if err != nil {
		return err
	}

	key, haveKey, err := keyFromFlags(fs)
	if err != nil {
		return err
	}
	skew, _ := time.ParseDuration(fs.Lookup("skew").Value.String())

	out, err := inspect(context.Background(), raw, key, haveKey, skew)
	if err != nil {
		return err
	}
	if out.Error != nil {
		logger.WithField("code", out.Error.Code).Warn("Token failed verification")
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func inspect(ctx context.Context, raw string, key idsite.KeyPair, haveKey bool, skew time.Duration) (*Inspection, error) {
	tok, err := idsite.ParseToken(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, err := tok.UnverifiedClaims()
	if err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}
	out := &Inspection{Header: tok.Header, Claims: claims}
	if !haveKey {
		return out, nil
	}

	if !claims.Has(idsite.ClaimResponseID) {
		// A request token: only the signature can be checked.
		if tok.KeyID() != key.ID {
			out.Error = &InspectionError{Code: idsite.ErrCodeInvalidKeyID, Message: "token kid does not match the key"}
			return out, nil
		}
		if _, err := tok.Verify([]byte(key.Secret)); err != nil {
			out.Error = inspectionError(err)
			return out, nil
		}
		out.Verified = true
		return out, nil
	}

	// A response token goes through the full callback checks against a
	// throwaway nonce store.
	store, err := nonce.NewMemoryStore(1, nonce.DefaultTTL, nil)
	if err != nil {
		return nil, err
	}
	handler, err := idsite.NewCallbackHandler(idsite.Config{
		Keys:      idsite.StaticKey(key),
		Nonces:    store,
		ClockSkew: skew,
		Logger:    observability.NewLogger(observability.ErrorLevel, nil),
	})
	if err != nil {
		return nil, err
	}
	result, err := handler.Validate(ctx, raw)
	if err != nil {
		out.Error = inspectionError(err)
		return out, nil
	}
	out.Verified = true
	out.Result = result
	return out, nil
}

func inspectionError(err error) *InspectionError {
	code := idsite.CodeOf(err)
	var e *idsite.Error
	if errors.As(err, &e) && e.Remote != nil {
		return &InspectionError{Code: code, Message: e.Remote.Error()}
	}
	return &InspectionError{Code: code, Message: err.Error()}
}

// readToken accepts a bare token, a URL carrying one, or - for stdin.
func readToken(input string) (string, error) {
	if input == "-" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read token from stdin: %w", err)
		}
		input = line
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("a token is required")
	}

	if strings.Contains(input, "://") {
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		q := u.Query()
		for _, param := range []string{idsite.ResponseParam, idsite.RequestParam} {
			if v := q.Get(param); v != "" {
				return v, nil
			}
		}
		return "", fmt.Errorf("URL carries neither %s nor %s", idsite.RequestParam, idsite.ResponseParam)
	}
	return input, nil
}
