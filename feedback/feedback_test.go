package feedback

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/session"
)

func TestNewNATSChannel_NilConnection(t *testing.T) {
	c, err := NewNATSChannel(nil, "")
	assert.Nil(t, c)
	assert.ErrorIs(t, err, errors.ErrFeedbackUnavailable)
}

func TestCloseRequest_Encoding(t *testing.T) {
	s := session.New(session.TransportTCP,
		netip.MustParseAddrPort("192.0.2.10:9000"),
		netip.MustParseAddrPort("192.0.2.1:4739"))

	payload, err := json.Marshal(CloseRequest{
		Session:   s.Ident(),
		Transport: s.Transport().String(),
	})
	require.NoError(t, err)

	var decoded CloseRequest
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, s.Ident(), decoded.Session)
	assert.Equal(t, "tcp", decoded.Transport)
}
