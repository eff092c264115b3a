// Package scopebus is the acquisition and protocol engine shared across
// bench instrument driver families: digital storage oscilloscopes, mixed
// signal logic analyzers, and DDS signal generators.
//
// It hides each instrument's wire dialect (SCPI text, IEEE-488.2 binary
// blocks, vendor USB control transfers, FPGA TLV configuration frames)
// behind one contract: enumerate, configure, run a per-frame capture
// cycle, and deliver typed sample packets onto a session bus until a
// frame or sample limit is reached.
//
// Device enumeration, firmware/bitstream loading, session-bus transport
// and the application-facing configuration UI are treated as external
// collaborators; see SessionSink and Catalog for the boundary.
package scopebus
