package database

import (
	"errors"
	"fmt"

	"edgehost/pkg/models"

	"github.com/firdasafridi/gocrypt"
)

// ErrInvalidSecret is returned for a HOST_SECRET that is not a usable AES key.
var ErrInvalidSecret = errors.New("invalid HOST_SECRET")

// payloadCipher seals the gocrypt-tagged payload column of stored configurations.
// A nil cipher stores payloads as plain JSON.
type payloadCipher struct {
	opt *gocrypt.Option
}

// newPayloadCipher parses secret once; an empty secret disables encryption.
func newPayloadCipher(secret string) (*payloadCipher, error) {
	if secret == "" {
		return nil, nil
	}
	aesOpt, err := gocrypt.NewAESOpt(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return &payloadCipher{opt: &gocrypt.Option{AESOpt: aesOpt}}, nil
}

func (c *payloadCipher) seal(record models.EndpointConfiguration) (models.EndpointConfiguration, error) {
	if c == nil {
		return record, nil
	}
	if err := gocrypt.New(c.opt).Encrypt(&record); err != nil {
		return record, fmt.Errorf("encrypt payload: %w", err)
	}
	return record, nil
}

// open returns the plain configuration JSON of record. Rows written before
// HOST_SECRET was set are still raw JSON; ciphertext is never '{'-prefixed.
func (c *payloadCipher) open(record *models.EndpointConfiguration) (string, error) {
	if record == nil {
		return "", nil
	}
	if c == nil || (len(record.Payload) > 0 && record.Payload[0] == '{') {
		return record.Payload, nil
	}
	decrypted := *record
	if err := gocrypt.New(c.opt).Decrypt(&decrypted); err != nil {
		return "", fmt.Errorf("decrypt payload: %w", err)
	}
	return decrypted.Payload, nil
}
