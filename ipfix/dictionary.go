package ipfix

import (
	"sync"

	goipfix "github.com/CN-TU/go-ipfix"
)

// ElementKey identifies an information element by enterprise number and
// element ID
type ElementKey struct {
	Pen uint32
	ID  uint16
}

// Dictionary is a versioned, read-mostly table of information-element
// definitions shared by reference across all sessions' template tables.
//
// A Dictionary is immutable after construction except for retirement:
// swapping dictionaries at runtime must not invalidate templates already
// bound against the previous version while messages referencing them are
// still draining the pipeline, so the old instance is retired through a
// garbage carrier and Dispose() only runs at the pipeline's terminal stage.
type Dictionary struct {
	version uint64
	byKey   map[ElementKey]goipfix.InformationElement
	byName  map[string]goipfix.InformationElement
	retired bool
}

// NewDictionary builds a dictionary with the given version from element
// definitions. Later duplicates win, matching spec-file reload semantics.
func NewDictionary(version uint64, elements []goipfix.InformationElement) *Dictionary {
	d := &Dictionary{
		version: version,
		byKey:   make(map[ElementKey]goipfix.InformationElement, len(elements)),
		byName:  make(map[string]goipfix.InformationElement, len(elements)),
	}
	for _, ie := range elements {
		d.byKey[ElementKey{Pen: ie.Pen, ID: ie.ID}] = ie
		if ie.Name != "" {
			d.byName[ie.Name] = ie
		}
	}
	return d
}

// Common IANA flow elements resolved for the builtin dictionary. The full
// IANA registry is loaded into go-ipfix; this names the subset templates of
// typical exporters reference.
var builtinElementNames = []string{
	"octetDeltaCount",
	"packetDeltaCount",
	"protocolIdentifier",
	"ipClassOfService",
	"tcpControlBits",
	"sourceTransportPort",
	"sourceIPv4Address",
	"destinationTransportPort",
	"destinationIPv4Address",
	"ipVersion",
	"sourceIPv6Address",
	"destinationIPv6Address",
	"flowStartMilliseconds",
	"flowEndMilliseconds",
	"flowEndReason",
	"octetTotalCount",
	"packetTotalCount",
	"ingressInterface",
	"egressInterface",
	"vlanId",
}

var loadIANAOnce sync.Once

// BuiltinDictionary returns a version-1 dictionary populated from the IANA
// registry bundled with go-ipfix.
func BuiltinDictionary() *Dictionary {
	loadIANAOnce.Do(goipfix.LoadIANASpec)

	elements := make([]goipfix.InformationElement, 0, len(builtinElementNames))
	for _, name := range builtinElementNames {
		ie, err := goipfix.GetInformationElement(name)
		if err != nil {
			// Names come from the IANA registry shipped with go-ipfix;
			// a miss means the bundled spec changed, not bad input.
			continue
		}
		elements = append(elements, ie)
	}
	return NewDictionary(1, elements)
}

// Version returns the dictionary version
func (d *Dictionary) Version() uint64 {
	return d.version
}

// Len returns the number of element definitions
func (d *Dictionary) Len() int {
	return len(d.byKey)
}

// Lookup resolves an element definition by enterprise number and element ID.
// Lookups on a retired dictionary always miss.
func (d *Dictionary) Lookup(pen uint32, id uint16) (goipfix.InformationElement, bool) {
	ie, ok := d.byKey[ElementKey{Pen: pen, ID: id}]
	return ie, ok
}

// LookupName resolves an element definition by name
func (d *Dictionary) LookupName(name string) (goipfix.InformationElement, bool) {
	ie, ok := d.byName[name]
	return ie, ok
}

// Retired reports whether the dictionary has been disposed
func (d *Dictionary) Retired() bool {
	return d.retired
}

// Dispose marks the dictionary retired and drops its tables so a
// use-after-retire shows up as a lookup miss instead of stale data.
// Invoked exactly once, by the garbage carrier at the pipeline's terminal
// stage.
func (d *Dictionary) Dispose() {
	d.retired = true
	d.byKey = nil
	d.byName = nil
}
