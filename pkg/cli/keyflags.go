package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/platinummonkey/idsite/pkg/idsite"
	"github.com/platinummonkey/idsite/pkg/keys"
)

// addKeyFlags registers the flags selecting the API key. Environment variables
// fill in what the flags leave empty.
func addKeyFlags(fs *flag.FlagSet) {
	fs.String("key-id", "", "API key id (default $IDSITE_API_KEY_ID)")
	fs.String("key-secret", "", "API key secret (default $IDSITE_API_KEY_SECRET)")
	fs.String("key-file", "", "apiKey.properties file (default $IDSITE_API_KEY_FILE)")
}

func flagOrEnv(fs *flag.FlagSet, name, env string) string {
	if v := fs.Lookup(name).Value.String(); v != "" {
		return v
	}
	return os.Getenv(env)
}

// keyFromFlags returns the key selected by addKeyFlags, or ok=false when none is set.
func keyFromFlags(fs *flag.FlagSet) (key idsite.KeyPair, ok bool, err error) {
	if path := flagOrEnv(fs, "key-file", "IDSITE_API_KEY_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return idsite.KeyPair{}, false, fmt.Errorf("failed to open key file: %w", err)
		}
		defer f.Close()
		key, err := keys.ParseProperties(f)
		if err != nil {
			return idsite.KeyPair{}, false, fmt.Errorf("invalid key file %s: %w", path, err)
		}
		return key, true, nil
	}

	key = idsite.KeyPair{
		ID:     flagOrEnv(fs, "key-id", "IDSITE_API_KEY_ID"),
		Secret: flagOrEnv(fs, "key-secret", "IDSITE_API_KEY_SECRET"),
	}
	if key.ID == "" && key.Secret == "" {
		return idsite.KeyPair{}, false, nil
	}
	if err := key.Validate(); err != nil {
		return idsite.KeyPair{}, false, err
	}
	return key, true, nil
}

// requireKey is keyFromFlags for commands that cannot run without a key.
func requireKey(fs *flag.FlagSet) (idsite.KeyPair, error) {
	key, ok, err := keyFromFlags(fs)
	if err != nil {
		return idsite.KeyPair{}, err
	}
	if !ok {
		return idsite.KeyPair{}, fmt.Errorf("an API key is required (-key-id and -key-secret, or -key-file)")
	}
	return key, nil
}
