package keys

import (
	"fmt"
	"io"

	"github.com/magiconair/properties"

	"github.com/platinummonkey/idsite/pkg/idsite"
)

// Property names in an apiKey.properties file.
const (
	PropertyID     = "apiKey.id"
	PropertySecret = "apiKey.secret"
)

// ParseProperties reads an API key from a Java properties file. ${...} is
// not expanded, secrets are taken literally.
func ParseProperties(r io.Reader) (idsite.KeyPair, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return idsite.KeyPair{}, fmt.Errorf("failed to read properties: %w", err)
	}

	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	props, err := loader.LoadBytes(data)
	if err != nil {
		return idsite.KeyPair{}, fmt.Errorf("failed to parse properties: %w", err)
	}

	id, _ := props.Get(PropertyID)
	secret, _ := props.Get(PropertySecret)
	key := idsite.KeyPair{ID: id, Secret: secret}
	if err := key.Validate(); err != nil {
		return idsite.KeyPair{}, err
	}
	return key, nil
}
