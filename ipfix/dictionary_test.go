package ipfix

import (
	"testing"

	goipfix "github.com/CN-TU/go-ipfix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testElements() []goipfix.InformationElement {
	return []goipfix.InformationElement{
		{Name: "octetDeltaCount", Pen: 0, ID: 1, Type: goipfix.Unsigned64Type},
		{Name: "sourceIPv4Address", Pen: 0, ID: 8, Type: goipfix.Ipv4AddressType},
		{Name: "vendorWidgetCount", Pen: 4242, ID: 100, Type: goipfix.Unsigned32Type},
	}
}

func TestDictionary_Lookup(t *testing.T) {
	d := NewDictionary(3, testElements())

	assert.Equal(t, uint64(3), d.Version())
	assert.Equal(t, 3, d.Len())

	ie, ok := d.Lookup(0, 1)
	require.True(t, ok)
	assert.Equal(t, "octetDeltaCount", ie.Name)

	ie, ok = d.Lookup(4242, 100)
	require.True(t, ok)
	assert.Equal(t, "vendorWidgetCount", ie.Name)

	_, ok = d.Lookup(0, 999)
	assert.False(t, ok)

	ie, ok = d.LookupName("sourceIPv4Address")
	require.True(t, ok)
	assert.Equal(t, uint16(8), ie.ID)
}

func TestDictionary_DisposeDropsLookups(t *testing.T) {
	d := NewDictionary(1, testElements())
	require.False(t, d.Retired())

	d.Dispose()

	assert.True(t, d.Retired())
	_, ok := d.Lookup(0, 1)
	assert.False(t, ok, "retired dictionary must miss, not serve stale data")
	_, ok = d.LookupName("octetDeltaCount")
	assert.False(t, ok)
}

func TestBuiltinDictionary(t *testing.T) {
	d := BuiltinDictionary()

	assert.Equal(t, uint64(1), d.Version())
	assert.NotZero(t, d.Len())

	ie, ok := d.LookupName("octetDeltaCount")
	require.True(t, ok)
	assert.Equal(t, uint32(0), ie.Pen)
	assert.Equal(t, uint16(1), ie.ID)

	// Every builtin name must resolve against the IANA registry bundled
	// with go-ipfix; a miss would silently shrink the dictionary.
	assert.Equal(t, len(builtinElementNames), d.Len())
	for _, name := range builtinElementNames {
		_, ok := d.LookupName(name)
		assert.True(t, ok, "missing builtin element %s", name)
	}
}
