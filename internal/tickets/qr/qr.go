package qr

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
	"time"

	"github.com/skip2/go-qrcode"

	"ms-reservation/internal/models"
)

// Payload is what a gate scanner recovers from a ticket QR code.
type Payload struct {
	TicketID     string    `json:"ticket_id"`
	TicketNumber string    `json:"ticket_number"`
	AttendeeID   string    `json:"attendee_id"`
	EventName    string    `json:"event_name"`
	AmountPaid   int64     `json:"amount_paid"`
	IssuedAt     time.Time `json:"issued_at"`
}

type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// GenerateEncryptedQR renders a PNG QR code holding the encrypted payload of
// a confirmed ticket.
func (q *QRGenerator) GenerateEncryptedQR(summary models.TicketSummary) ([]byte, error) {
	token, err := q.Token(summary)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}

// Token returns the encrypted, URL-safe text encoded in the QR code.
func (q *QRGenerator) Token(summary models.TicketSummary) (string, error) {
	data, err := json.Marshal(Payload{
		TicketID:     summary.TicketID,
		TicketNumber: summary.TicketNumber,
		AttendeeID:   summary.AttendeeID,
		EventName:    summary.EventName,
		AmountPaid:   summary.AmountPaid,
		IssuedAt:     summary.IssuedAt,
	})
	if err != nil {
		return "", err
	}
	return encryptAES(data, q.secret)
}

// Decode reverses Token.
func (q *QRGenerator) Decode(token string) (*Payload, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if len(raw) < aes.BlockSize {
		return nil, errors.New("token too short")
	}

	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(raw)-aes.BlockSize)
	cipher.NewCFBDecrypter(block, raw[:aes.BlockSize]).XORKeyStream(plaintext, raw[aes.BlockSize:])

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("token does not decrypt to a ticket: %w", err)
	}
	return &payload, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}
