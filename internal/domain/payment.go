package domain

// PaymentKind is the discriminant of a payment method.
type PaymentKind string

const (
	// PaymentKindCOD pays cash when the parcel is delivered.
	PaymentKindCOD PaymentKind = "COD"
	// PaymentKindGCash pays through the GCash mobile wallet.
	PaymentKindGCash PaymentKind = "GCash"
)

// Valid reports whether the kind is supported.
func (k PaymentKind) Valid() bool {
	return k == PaymentKindCOD || k == PaymentKindGCash
}

// PaymentMethod is a fully-populated payment variant. Only CashOnDelivery and GCashWallet implement it.
type PaymentMethod interface {
	Kind() PaymentKind
	paymentMethod()
}

// CashOnDelivery carries no payment details.
type CashOnDelivery struct{}

// Kind implements PaymentMethod.
func (CashOnDelivery) Kind() PaymentKind { return PaymentKindCOD }

func (CashOnDelivery) paymentMethod() {}

// GCashWallet carries the wallet holder details confirmed by the shopper.
type GCashWallet struct {
	HolderName   string
	WalletNumber string
}

// Kind implements PaymentMethod.
func (GCashWallet) Kind() PaymentKind { return PaymentKindGCash }

func (GCashWallet) paymentMethod() {}
