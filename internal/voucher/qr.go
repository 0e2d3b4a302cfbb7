// Package voucher renders the pickup voucher shown at the rental counter: a QR
// code carrying the encrypted reservation summary.
package voucher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ms-rental/internal/models"

	"github.com/skip2/go-qrcode"
)

var (
	ErrNotConfirmed = errors.New("voucher is only issued for confirmed reservations")
	ErrInvalidCode  = errors.New("invalid voucher code")
)

type Payload struct {
	ReservationID string `json:"rid"`
	ResourceID    string `json:"vid"`
	StartDate     string `json:"start"`
	EndDate       string `json:"end"`
	PaymentRef    string `json:"pay,omitempty"`
}

type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

// Code returns the encrypted text embedded in the QR image.
func (g *Generator) Code(res models.Reservation) (string, error) {
	if res.Status != models.StatusConfirmed {
		return "", ErrNotConfirmed
	}
	data, err := json.Marshal(Payload{
		ReservationID: res.ID,
		ResourceID:    res.ResourceID,
		StartDate:     res.StartDate.Format(models.DateLayout),
		EndDate:       res.EndDate.Format(models.DateLayout),
		PaymentRef:    res.PaymentRef,
	})
	if err != nil {
		return "", err
	}
	return g.seal(data)
}

// PNG renders the voucher QR code for a confirmed reservation.
func (g *Generator) PNG(res models.Reservation) ([]byte, error) {
	code, err := g.Code(res)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(code, qrcode.Medium, 256)
}

// Open decrypts a scanned voucher code.
func (g *Generator) Open(code string) (*Payload, error) {
	raw, err := base64.URLEncoding.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	gcm, err := g.aead()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, ErrInvalidCode
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	return &p, nil
}

func (g *Generator) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(g.secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (g *Generator) seal(data []byte) (string, error) {
	gcm, err := g.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(gcm.Seal(nonce, nonce, data, nil)), nil
}
