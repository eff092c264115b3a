package scopebus

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ProtocolFlavor selects the wire dialect and, together with the driver
// family dispatch in statemachine.go, the per-family state machine.
type ProtocolFlavor string

const (
	FlavorLegacyRaw    ProtocolFlavor = "legacy-raw"
	FlavorIEEE4882     ProtocolFlavor = "ieee488.2-block"
	FlavorDSLogicUSB   ProtocolFlavor = "dslogic-usb"
	FlavorJDSText      ProtocolFlavor = "jds-text"
	FlavorSiglentBlock ProtocolFlavor = "siglent-descriptor"
)

// ChannelKind distinguishes analog scope inputs from digital logic
// inputs.
type ChannelKind int

const (
	ChannelAnalog ChannelKind = iota
	ChannelLogic
)

// DataSource selects where a frame's samples are read from.
type DataSource string

const (
	SourceLive      DataSource = "live"
	SourceMemory    DataSource = "memory"
	SourceSegmented DataSource = "segmented"
)

// ModelCapabilities gates config-list and driver behavior per model.
type ModelCapabilities struct {
	MemorySource    bool // only DS2000-class exposes "Memory" data source
	PodDigitsTwo    bool // only E-series exposes digits=2 logic pod thresholds
	ChannelEnable32 bool // only DSLogic-class models use the 32-bit TLV layout (v2)
	DualPod         bool // 16-channel MSOs have two POD groups
	HalfQuarterRate bool
}

// ModelDescriptor is the static, immutable-after-scan description of an
// instrument model, as looked up from *IDN?. Device enumeration itself is
// out of scope (§1); this type is the shape of its input data.
type ModelDescriptor struct {
	Vendor        string
	Model         string
	Series        string
	Flavor        ProtocolFlavor
	AnalogChannels int
	LogicChannels  int
	PodSize        int // always 8
	MinTimebase    float64
	MaxTimebase    float64
	MinVdiv        float64
	HDivs          int
	MemoryDepth    int
	FrameSize      int // bytes/samples per channel per frame, per §3
	SampleRates    []float64
	Vdivs          []float64
	Timebases      []float64
	Caps           ModelCapabilities
}

func (m ModelDescriptor) PodCount() int {
	if m.Caps.DualPod {
		return 2
	}
	if m.LogicChannels > 0 {
		return 1
	}
	return 0
}

type catalogKey struct {
	vendor string
	model  string
}

// Catalog is a lookup table of ModelDescriptor keyed by (vendor,
// model-string) as reported by *IDN?. It is built from the compiled-in
// table and may be extended with a YAML overlay without a rebuild.
type Catalog struct {
	entries map[catalogKey]ModelDescriptor
}

// NewCatalog returns a Catalog seeded with the built-in descriptor table.
func NewCatalog() *Catalog {
	c := &Catalog{entries: make(map[catalogKey]ModelDescriptor, len(builtinModels))}
	for _, m := range builtinModels {
		c.entries[catalogKey{m.Vendor, m.Model}] = m
	}
	return c
}

// Lookup resolves a (vendor, model) pair as reported by *IDN? to its
// descriptor. It returns ErrUnsupported when the model is not catalogued.
func (c *Catalog) Lookup(vendor, model string) (ModelDescriptor, error) {
	d, ok := c.entries[catalogKey{vendor, model}]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%w: model %q/%q not in catalog", ErrUnsupported, vendor, model)
	}
	return d, nil
}

// LoadOverlay adds or replaces entries from a YAML document of the form
// documented in catalogOverlay, without touching the compiled-in table.
func (c *Catalog) LoadOverlay(doc []byte) error {
	var overlay catalogOverlay
	if err := yaml.Unmarshal(doc, &overlay); err != nil {
		return fmt.Errorf("scopebus: parsing catalog overlay: %w", err)
	}
	for _, m := range overlay.Models {
		c.entries[catalogKey{m.Vendor, m.Model}] = m
	}
	return nil
}

// catalogOverlay is the YAML shape accepted by LoadOverlay: a flat list
// of model descriptors, same fields as ModelDescriptor.
type catalogOverlay struct {
	Models []ModelDescriptor `yaml:"models"`
}

// builtinModels mirrors the instrument families named throughout the
// spec. Frame sizes and memory depths follow §3's invariant table.
var builtinModels = []ModelDescriptor{
	{
		Vendor: "RIGOL TECHNOLOGIES", Model: "DS1102D", Series: "DS1000",
		Flavor: FlavorLegacyRaw, AnalogChannels: 2, LogicChannels: 16, PodSize: 8,
		MinTimebase: 2e-9, MaxTimebase: 50, MinVdiv: 0.002, HDivs: 12,
		MemoryDepth: 600, FrameSize: 600,
		Vdivs:     []float64{0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		Timebases: defaultTimebases(),
		Caps:      ModelCapabilities{DualPod: true},
	},
	{
		Vendor: "RIGOL TECHNOLOGIES", Model: "DS2072", Series: "DS2000",
		Flavor: FlavorIEEE4882, AnalogChannels: 2, LogicChannels: 0, PodSize: 0,
		MinTimebase: 1e-9, MaxTimebase: 1000, MinVdiv: 0.001, HDivs: 14,
		MemoryDepth: 14000000, FrameSize: 1400,
		Vdivs:     []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		Timebases: defaultTimebases(),
		Caps:      ModelCapabilities{MemorySource: true},
	},
	{
		Vendor: "Siglent Technologies", Model: "SDS1202X-E", Series: "SDS1000X-E",
		Flavor: FlavorSiglentBlock, AnalogChannels: 2, LogicChannels: 16, PodSize: 8,
		MinTimebase: 2e-9, MaxTimebase: 100, MinVdiv: 0.0005, HDivs: 14,
		MemoryDepth: 14000000, FrameSize: 1400,
		Vdivs:     []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		Timebases: defaultTimebases(),
		Caps:      ModelCapabilities{MemorySource: true, PodDigitsTwo: true, DualPod: true},
	},
	{
		Vendor: "DreamSourceLab", Model: "DSLogic", Series: "DSLogic",
		Flavor: FlavorDSLogicUSB, AnalogChannels: 0, LogicChannels: 16, PodSize: 8,
		MinTimebase: 0, MaxTimebase: 0, MinVdiv: 0, HDivs: 0,
		MemoryDepth: 256 * 1024 * 1024, FrameSize: 0,
		SampleRates: []float64{100e6, 50e6, 25e6, 12.5e6},
		Caps:        ModelCapabilities{DualPod: true, ChannelEnable32: false},
	},
	{
		Vendor: "DreamSourceLab", Model: "DSLogicPro", Series: "DSLogic",
		Flavor: FlavorDSLogicUSB, AnalogChannels: 0, LogicChannels: 16, PodSize: 8,
		MemoryDepth: 256 * 1024 * 1024,
		SampleRates: []float64{400e6, 200e6, 100e6},
		Caps:        ModelCapabilities{DualPod: true, ChannelEnable32: true},
	},
	{
		Vendor: "JUNTEK", Model: "JDS6600", Series: "JDS6600",
		Flavor: FlavorJDSText, AnalogChannels: 2, LogicChannels: 0,
		MaxTimebase: 0,
	},
	{
		Vendor: "HAMEG", Model: "HMO3054", Series: "HMO3000",
		Flavor: FlavorIEEE4882, AnalogChannels: 4, LogicChannels: 16, PodSize: 8,
		MinTimebase: 2e-9, MaxTimebase: 50, MinVdiv: 0.001, HDivs: 10,
		MemoryDepth: 1000000, FrameSize: 1210,
		Vdivs:     []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		Timebases: defaultTimebases(),
		Caps:      ModelCapabilities{DualPod: true},
	},
	{
		Vendor: "Hantek", Model: "6022BE", Series: "Hantek60xx",
		Flavor: FlavorLegacyRaw, AnalogChannels: 2,
		MinVdiv: 0.01, FrameSize: 10240,
		Vdivs: []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
	},
}

func defaultTimebases() []float64 {
	return []float64{
		1e-9, 2e-9, 5e-9, 1e-8, 2e-8, 5e-8, 1e-7, 2e-7, 5e-7,
		1e-6, 2e-6, 5e-6, 1e-5, 2e-5, 5e-5, 1e-4, 2e-4, 5e-4,
		1e-3, 2e-3, 5e-3, 1e-2, 2e-2, 5e-2, 1e-1, 2e-1, 5e-1, 1, 2, 5, 10,
	}
}
