// Package payment supplies the "payment proof accepted" verdict the
// settlement engine needs before it advances an order to PAID. Each payment
// method is a validation func registered by name, not a type hierarchy.
package payment

import (
	"regexp"
	"strings"

	"github.com/ilive/checkout/internal/checkout"
)

const (
	MethodCreditCard = "CREDIT_CARD"
	MethodApplePay   = "APPLE_PAY"
)

// Verifier returns whether the given proof is acceptable for the method.
type Verifier interface {
	Verify(method, proof string) (bool, error)
}

type Registry struct {
	methods map[string]func(proof string) bool
}

// NewRegistry returns a registry with the built-in methods: credit card
// (16 digits, spaces ignored) and Apple Pay (non-blank token).
func NewRegistry() *Registry {
	return &Registry{methods: map[string]func(string) bool{
		MethodCreditCard: validCardNumber,
		MethodApplePay:   validApplePayToken,
	}}
}

// Register adds or replaces a payment method.
func (r *Registry) Register(method string, validate func(proof string) bool) {
	r.methods[method] = validate
}

func (r *Registry) Verify(method, proof string) (bool, error) {
	validate, ok := r.methods[method]
	if !ok {
		return false, checkout.ErrUnknownPaymentMethod
	}
	return validate(proof), nil
}

var cardDigits = regexp.MustCompile(`^\d{16}$`)

func validCardNumber(proof string) bool {
	return cardDigits.MatchString(strings.ReplaceAll(proof, " ", ""))
}

func validApplePayToken(proof string) bool {
	return strings.TrimSpace(proof) != ""
}
