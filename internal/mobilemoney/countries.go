// Package mobilemoney holds the static table of mobile money corridors the
// gateway supports: country calling code to currency and allowed networks.
// Validation here fails fast locally instead of paying for a round trip
// that would fail upstream.
package mobilemoney

import (
	"fmt"
	"slices"
	"strings"
)

type Country struct {
	Currency string
	Networks []string
	Region   string
}

var supportedCountries = map[string]Country{
	"226": {Currency: "XOF", Networks: []string{"mobicash", "orange"}, Region: "West Africa"},                     // Burkina Faso
	"237": {Currency: "XAF", Networks: []string{"mtn", "orange"}, Region: "Central Africa"},                       // Cameroon
	"225": {Currency: "XOF", Networks: []string{"moov", "mtn", "orange", "wave"}, Region: "West Africa"},          // Côte d'Ivoire
	"233": {Currency: "GHS", Networks: []string{"airteltigo", "mtn", "vodafone"}, Region: "West Africa"},          // Ghana
	"254": {Currency: "KES", Networks: []string{"airtel", "mpesa"}, Region: "East Africa"},                        // Kenya
	"265": {Currency: "MWK", Networks: []string{"airtel"}, Region: "East Africa"},                                 // Malawi
	"250": {Currency: "RWF", Networks: []string{"airtel", "mtn"}, Region: "East Africa"},                          // Rwanda
	"221": {Currency: "XOF", Networks: []string{"emoney", "freemoney", "orange"}, Region: "West Africa"},          // Senegal
	"255": {Currency: "TZS", Networks: []string{"airtel", "tigo", "halopesa", "vodafone"}, Region: "East Africa"}, // Tanzania
	"256": {Currency: "UGX", Networks: []string{"airtel", "mtn"}, Region: "East Africa"},                          // Uganda
}

// Lookup returns the corridor config for a country calling code.
func Lookup(countryCode string) (Country, bool) {
	c, ok := supportedCountries[countryCode]
	return c, ok
}

// Validate checks a country/network pair against the table and returns the
// corridor on success.
func Validate(countryCode, network string) (Country, error) {
	country, ok := supportedCountries[countryCode]
	if !ok {
		return Country{}, fmt.Errorf("country %s is not supported for mobile money payments", countryCode)
	}

	if !slices.Contains(country.Networks, strings.ToLower(network)) {
		return Country{}, fmt.Errorf("network %s is not supported in country %s (supported: %s)",
			network, countryCode, strings.Join(country.Networks, ", "))
	}

	return country, nil
}

// SupportedCountries returns the calling codes in the table.
func SupportedCountries() []string {
	codes := make([]string, 0, len(supportedCountries))
	for code := range supportedCountries {
		codes = append(codes, code)
	}

	slices.Sort(codes)

	return codes
}
