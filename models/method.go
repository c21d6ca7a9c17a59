package models

import "strings"

// Method holds the capability flags of a payment method
type Method struct {
	Code                   string
	Title                  string
	IsGateway              bool
	CanAuthorize           bool
	CanRefund              bool
	CanUseCheckout         bool
	CanUseInternal         bool
	CanUseForMultishipping bool
	SupportedCountries     []string
	SupportedCurrencies    []string
}

// IDEAL is the iDEAL method: billing country NL and currency EUR only.
var IDEAL = Method{
	Code:                   "mpm_idl",
	Title:                  "iDEAL",
	IsGateway:              true,
	CanAuthorize:           true,
	CanRefund:              false,
	CanUseCheckout:         true,
	CanUseInternal:         false,
	CanUseForMultishipping: true,
	SupportedCountries:     []string{"NL"},
	SupportedCurrencies:    []string{"EUR"},
}

// Eligible checks the billing country and currency against the method.
func (m Method) Eligible(country, currency string) bool {
	return contains(m.SupportedCountries, country) && contains(m.SupportedCurrencies, currency)
}

func contains(list []string, v string) bool {
	v = strings.ToUpper(strings.TrimSpace(v))
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
