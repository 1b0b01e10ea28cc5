package mobilemoney_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tannaco/paygate/internal/mobilemoney"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		countryCode  string
		network      string
		wantCurrency string
		wantErr      bool
	}{
		{name: "UgandaMTN", countryCode: "256", network: "mtn", wantCurrency: "UGX"},
		{name: "UgandaAirtel", countryCode: "256", network: "airtel", wantCurrency: "UGX"},
		{name: "NetworkCaseInsensitive", countryCode: "256", network: "MTN", wantCurrency: "UGX"},
		{name: "KenyaMpesa", countryCode: "254", network: "mpesa", wantCurrency: "KES"},
		{name: "GhanaVodafone", countryCode: "233", network: "vodafone", wantCurrency: "GHS"},
		{name: "MpesaNotInUganda", countryCode: "256", network: "mpesa", wantErr: true},
		{name: "UnsupportedCountry", countryCode: "1", network: "mtn", wantErr: true},
		{name: "EmptyNetwork", countryCode: "254", network: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			country, err := mobilemoney.Validate(tt.countryCode, tt.network)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantCurrency, country.Currency)
		})
	}
}

func TestLookup(t *testing.T) {
	country, ok := mobilemoney.Lookup("255")

	require.True(t, ok)
	assert.Equal(t, "TZS", country.Currency)
	assert.Contains(t, country.Networks, "halopesa")

	_, ok = mobilemoney.Lookup("999")
	assert.False(t, ok)
}

func TestSupportedCountries(t *testing.T) {
	codes := mobilemoney.SupportedCountries()

	assert.Len(t, codes, 10)
	assert.IsIncreasing(t, codes)
	assert.Contains(t, codes, "256")
}
