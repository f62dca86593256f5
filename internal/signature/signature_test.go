package signature

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "K951B6PE1waDMi640xX08PD3vg6EkVlz"

func TestCanonicalSortsAndSkipsSignature(t *testing.T) {
	fields := map[string]string{
		"orderId":     "abc",
		"amount":      "50000",
		"signature":   "deadbeef",
		"accessKey":   "F8BBA842ECF85",
		"extraData":   "",
		"partnerCode": "MOMO",
	}

	assert.Equal(t, "accessKey=F8BBA842ECF85&amount=50000&extraData=&orderId=abc&partnerCode=MOMO", Canonical(fields))
}

func TestCanonicalUsesRawValues(t *testing.T) {
	fields := map[string]string{"message": "Giao dịch thành công.", "payUrl": "https://pay.example/?a=1&b=%20"}
	assert.Equal(t, "message=Giao dịch thành công.&payUrl=https://pay.example/?a=1&b=%20", Canonical(fields))
}

func TestSignKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		Sign(SHA256, "what do ya want for nothing?", "Jefe"))
	assert.Equal(t,
		"164b7a7bfcf819e2e395fbe73b56e0a387bd64222e831fd610270cd7ea2505549758bf75c05a994a6d034f65f8f0e6fdcaeab1a34d4a6b4b636e070a38bce737",
		Sign(SHA512, "what do ya want for nothing?", "Jefe"))
}

func TestRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, SHA512} {
		t.Run(string(alg), func(t *testing.T) {
			payload := SignFields(alg, map[string]string{
				"orderId":    "3c2b1a",
				"resultCode": "0",
				"transId":    "4088878653",
				"message":    "Successful.",
			}, secret)

			assert.True(t, Verify(alg, payload, secret))
			assert.False(t, Verify(alg, payload, secret+"x"))
		})
	}
}

func TestSingleCharacterFlipFails(t *testing.T) {
	canonical := "amount=50000&orderId=3c2b1a&resultCode=0&transId=4088878653"
	sig := Sign(SHA256, canonical, secret)

	for i := range canonical {
		b := []byte(canonical)
		b[i] ^= 0x01
		assert.NotEqual(t, sig, Sign(SHA256, string(b), secret), "flip at %d", i)
	}
}

func TestVerifyTamperedField(t *testing.T) {
	payload := SignFields(SHA256, map[string]string{"orderId": "a", "resultCode": "0"}, secret)
	payload["resultCode"] = "1"
	assert.False(t, Verify(SHA256, payload, secret))
}

func TestVerifyMissingSignature(t *testing.T) {
	assert.False(t, Verify(SHA256, map[string]string{"orderId": "a"}, secret))
	assert.False(t, Verify(SHA256, map[string]string{"orderId": "a", "signature": ""}, secret))
}

func TestVerifyAcceptsUppercaseHex(t *testing.T) {
	payload := SignFields(SHA256, map[string]string{"orderId": "a"}, secret)
	payload[Field] = upper(payload[Field])
	assert.True(t, Verify(SHA256, payload, secret))
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 32
		}
	}
	return string(b)
}

func TestFieldsFromJSON(t *testing.T) {
	body := []byte(`{"partnerCode":"MOMO","orderId":"x1","amount":50000,"resultCode":0,"extraData":"","transId":4088878653,"flag":true,"none":null,"nested":{"a": 1},"signature":"ab"}`)

	fields, err := FieldsFromJSON(body)
	require.NoError(t, err)

	assert.Equal(t, "MOMO", fields["partnerCode"])
	assert.Equal(t, "50000", fields["amount"])
	assert.Equal(t, "0", fields["resultCode"])
	assert.Equal(t, "4088878653", fields["transId"])
	assert.Equal(t, "true", fields["flag"])
	assert.Equal(t, "", fields["none"])
	assert.Equal(t, `{"a":1}`, fields["nested"])
	assert.Equal(t, "ab", fields["signature"])
}

func TestFieldsFromJSONRejectsNonObject(t *testing.T) {
	_, err := FieldsFromJSON([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestFieldsFromQuery(t *testing.T) {
	q, err := url.ParseQuery("orderId=x1&message=Th%C3%A0nh+c%C3%B4ng&resultCode=0&resultCode=9")
	require.NoError(t, err)

	fields := FieldsFromQuery(q)
	assert.Equal(t, "Thành công", fields["message"])
	assert.Equal(t, "0", fields["resultCode"])
}
