package services

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
	"github.com/Tiann-Paete/Nars-web/internal/geo"
	"github.com/Tiann-Paete/Nars-web/internal/platform/textutil"
)

// RequiredFieldMessage is the message attached to every empty required field.
const RequiredFieldMessage = "This field is required"

// Billing field names as exchanged with the presentation layer.
const (
	FieldFullName        = "fullName"
	FieldPhoneNumber     = "phoneNumber"
	FieldAddress         = "address"
	FieldCity            = "city"
	FieldStateProvince   = "stateProvince"
	FieldPostalCode      = "postalCode"
	FieldDeliveryAddress = "deliveryAddress"
)

var requiredFields = []string{
	FieldFullName,
	FieldPhoneNumber,
	FieldAddress,
	FieldCity,
	FieldStateProvince,
	FieldPostalCode,
	FieldDeliveryAddress,
}

var (
	// ErrUnknownCity indicates the city is not part of the city table.
	ErrUnknownCity = errors.New("checkout: unknown city")
	// ErrUnknownBillingField indicates the field name is not a billing field.
	ErrUnknownBillingField = errors.New("checkout: unknown billing field")
	// ErrReadOnlyBillingField indicates the field is derived and cannot be set directly.
	ErrReadOnlyBillingField = errors.New("checkout: read-only billing field")
	// ErrInvalidAddressLabel indicates the delivery label is neither Home nor Work.
	ErrInvalidAddressLabel = errors.New("checkout: invalid address label")
)

// ErrorMap maps a billing field name to its validation message.
type ErrorMap map[string]string

// Clone returns an independent copy.
func (m ErrorMap) Clone() ErrorMap {
	if m == nil {
		return ErrorMap{}
	}
	return maps.Clone(m)
}

// AddressValidator validates billing info and keeps city and province coupled.
type AddressValidator struct {
	cities *geo.Table
}

// NewAddressValidator constructs a validator over the given city table.
func NewAddressValidator(cities *geo.Table) (*AddressValidator, error) {
	if cities == nil || cities.Len() == 0 {
		return nil, errors.New("address validator: city table is required")
	}
	return &AddressValidator{cities: cities}, nil
}

// Resolve attaches the province derived from the selected city.
func (v *AddressValidator) Resolve(info domain.BillingInfo) domain.ResolvedBillingInfo {
	return domain.ResolvedBillingInfo{BillingInfo: info, Province: v.cities.Province(info.City)}
}

// Validate returns an entry for every empty required field. Only presence is checked.
func (v *AddressValidator) Validate(info domain.BillingInfo) ErrorMap {
	values := fieldValues(v.Resolve(info))
	errs := ErrorMap{}
	for _, field := range requiredFields {
		if strings.TrimSpace(values[field]) == "" {
			errs[field] = RequiredFieldMessage
		}
	}
	return errs
}

// ClearField drops the error of one field, as done while the shopper edits it.
func (v *AddressValidator) ClearField(errs ErrorMap, field string) ErrorMap {
	out := errs.Clone()
	delete(out, field)
	return out
}

// SelectCity sets the city from the table. The province follows on every read.
func (v *AddressValidator) SelectCity(info domain.BillingInfo, city string) (domain.BillingInfo, error) {
	city = strings.TrimSpace(city)
	if !v.cities.Contains(city) {
		return info, fmt.Errorf("%w: %q", ErrUnknownCity, city)
	}
	info.City = city
	return info, nil
}

// SetField updates one billing field. City changes go through SelectCity and the province
// cannot be set at all.
func (v *AddressValidator) SetField(info domain.BillingInfo, field, value string) (domain.BillingInfo, error) {
	clean := textutil.PlainText(value)
	switch field {
	case FieldFullName:
		info.FullName = clean
	case FieldPhoneNumber:
		info.PhoneNumber = clean
	case FieldAddress:
		info.Address = clean
	case FieldPostalCode:
		info.PostalCode = clean
	case FieldDeliveryAddress:
		label := domain.AddressLabel(clean)
		if !label.Valid() {
			return info, fmt.Errorf("%w: %q", ErrInvalidAddressLabel, clean)
		}
		info.Label = label
	case FieldCity:
		return v.SelectCity(info, clean)
	case FieldStateProvince:
		return info, fmt.Errorf("%w: %s", ErrReadOnlyBillingField, field)
	default:
		return info, fmt.Errorf("%w: %s", ErrUnknownBillingField, field)
	}
	return info, nil
}

// Cities exposes the table backing the city picker.
func (v *AddressValidator) Cities() *geo.Table {
	return v.cities
}

func fieldValues(info domain.ResolvedBillingInfo) map[string]string {
	return map[string]string{
		FieldFullName:        info.FullName,
		FieldPhoneNumber:     info.PhoneNumber,
		FieldAddress:         info.Address,
		FieldCity:            info.City,
		FieldStateProvince:   info.Province,
		FieldPostalCode:      info.PostalCode,
		FieldDeliveryAddress: string(info.Label),
	}
}
