package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseClassification(t *testing.T) {
	cases := []struct {
		name     string
		resp     *Response
		success  bool
		terminal bool
	}{
		{"certificate", SuccessResponse([]byte("cert")), true, false},
		{"username taken", ErrorResponse(CodeUsernameTaken, "taken"), false, true},
		{"invalid request", ErrorResponse(CodeInvalidRequest, "bad"), false, true},
		{"transient", ErrorResponse(CodeTransient, "later"), false, false},
		{"empty", &Response{}, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.success, tc.resp.Success())
			require.Equal(t, tc.terminal, tc.resp.Terminal())
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	original := &Request{
		RequestID: "req-1",
		Username:  "alice",
		CSR:       []byte{0x01, 0x02},
	}

	data, err := EncodeRequest(original)
	require.NoError(t, err)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	require.Equal(t, original, decoded)

	_, err = DecodeRequest([]byte("junk"))
	require.Error(t, err)
}
