package checkout

import (
	"net/mail"
	"strings"

	"storefront/internal/model"
)

// minPhoneDigits is the fewest digits accepted in a phone number.
const minPhoneDigits = 7

// Validate checks a checkout form. Contact details are mandatory only for
// anonymous checkout; billing is checked only when it differs from shipping.
// The result is nil when the form is valid.
func Validate(in Input, authenticated bool) model.ValidationErrors {
	var errs model.ValidationErrors

	if !authenticated {
		errs = append(errs, validateContact(in.Contact)...)
	} else if in.Contact.Email != "" && !validEmail(in.Contact.Email) {
		errs = append(errs, model.NewValidationError("contact.email", "enter a valid email address"))
	}

	errs = append(errs, validateAddress("shipping", in.Shipping)...)
	if !in.BillingSameAsShipping {
		errs = append(errs, validateAddress("billing", in.Billing)...)
	}

	if !in.PaymentMethod.Valid() {
		errs = append(errs, model.NewValidationError("payment_method", "choose a payment method"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateContact(c model.ContactInfo) model.ValidationErrors {
	var errs model.ValidationErrors
	switch {
	case strings.TrimSpace(c.Email) == "":
		errs = append(errs, model.NewValidationError("contact.email", "email is required"))
	case !validEmail(c.Email):
		errs = append(errs, model.NewValidationError("contact.email", "enter a valid email address"))
	}
	if e := validatePhone("contact.phone", c.Phone); e != nil {
		errs = append(errs, e)
	}
	return errs
}

func validateAddress(prefix string, a model.Address) model.ValidationErrors {
	var errs model.ValidationErrors
	required := []struct {
		field, label, value string
	}{
		{"full_name", "full name", a.FullName},
		{"address_line1", "address", a.AddressLine1},
		{"city", "city", a.City},
		{"state", "state", a.State},
		{"postal_code", "postal code", a.PostalCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, model.NewValidationError(prefix+"."+r.field, r.label+" is required"))
		}
	}
	if e := validatePhone(prefix+".phone", a.Phone); e != nil {
		errs = append(errs, e)
	}
	return errs
}

func validatePhone(field, phone string) *model.APIError {
	if strings.TrimSpace(phone) == "" {
		return model.NewValidationError(field, "phone number is required")
	}
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return model.NewValidationError(field, "enter a valid phone number")
		}
	}
	if digits < minPhoneDigits {
		return model.NewValidationError(field, "enter a valid phone number")
	}
	return nil
}

// validEmail accepts a bare address, not a display-name form.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == strings.TrimSpace(s) && strings.Contains(addr.Address, "@")
}
