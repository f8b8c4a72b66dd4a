package chainsource

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// FilterSink is the chain source's Filter-capable surface, routing
// RegisterTx/RegisterOutput calls to whichever backend-specific mechanism
// (or no-op) applies. Esplora and
// Bitcoind register nothing (Esplora has no server-side watch concept;
// Bitcoind drives listeners directly from full block data instead of
// targeted filters), so their sinks are built with nil functions below;
// only Electrum's implementation does real work, delegating straight to
// its ElectrumRuntimeState.
type FilterSink struct {
	registerTx     func(txid chainhash.Hash) error
	registerOutput func(outpointHash chainhash.Hash, script []byte) error
}

// NewFilterSink wires a sink against backend-specific registration
// functions. Passing nil for either uses a no-op, which is what the
// Esplora and Bitcoind backends pass since neither does real filtering
// work.
func NewFilterSink(registerTx func(chainhash.Hash) error,
	registerOutput func(chainhash.Hash, []byte) error) *FilterSink {

	if registerTx == nil {
		registerTx = func(chainhash.Hash) error { return nil }
	}
	if registerOutput == nil {
		registerOutput = func(chainhash.Hash, []byte) error { return nil }
	}

	return &FilterSink{registerTx: registerTx, registerOutput: registerOutput}
}

// RegisterTx registers interest in txid confirming.
func (f *FilterSink) RegisterTx(txid chainhash.Hash) {
	if err := f.registerTx(txid); err != nil {
		log.Errorf("failed to register transaction %s for watch: %v", txid, err)
	}
}

// RegisterOutput registers interest in spends of the output identified by
// outpointHash/script.
func (f *FilterSink) RegisterOutput(outpointHash chainhash.Hash, script []byte) {
	if err := f.registerOutput(outpointHash, script); err != nil {
		log.Errorf("failed to register output %s for watch: %v",
			describeScript(script), err)
	}
}

// describeScript renders script as a single address for log messages
// when it parses as a standard pay-to-* script, or a short byte count
// otherwise. Parse failures aren't logged as errors here: plenty of
// outputs this sink watches are intentionally non-standard (e.g. funding
// outputs), so txscript rejecting one isn't noteworthy on its own.
func describeScript(script []byte) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, &chaincfg.MainNetParams)
	if err != nil || len(addrs) == 0 {
		return fmt.Sprintf("<%d-byte script>", len(script))
	}
	return addrs[0].String()
}
