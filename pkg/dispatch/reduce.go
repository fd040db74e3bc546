package dispatch

import (
	"context"
	"errors"

	"github.com/psaab/snmpagentd/pkg/logging"
	"github.com/psaab/snmpagentd/pkg/snmp"
	"github.com/psaab/snmpagentd/pkg/stats"
)

// minPDUSize is the headroom kept free when re-encoding a reduced answer,
// and the message size below which no reduction is attempted.
const minPDUSize = 32

// Encode encodes resp, the answer to req, into at most maxSize bytes. A
// GetBulk answer that does not fit is shortened until it does; any other
// answer that does not fit becomes an empty tooBig response. It returns
// false when nothing can be sent.
func (d *Dispatcher) Encode(ctx context.Context, req, resp *snmp.PDU, maxSize int) ([]byte, bool) {
	log := logging.FromContext(ctx)

	out, err := d.cfg.Codec.Encode(resp, maxSize)
	if err == nil {
		d.countResponse(resp)
		return out, true
	}

	var tb *snmp.TooBigError
	if !errors.As(err, &tb) {
		log.Warn("failed to encode response", "kind", req.Kind, "err", err)
		return nil, false
	}
	log.Debug("response too big", "varbinds", len(resp.VarBinds), "size", tb.Size, "limit", tb.Limit, "accepted", tb.Accepted)

	if req.Kind == snmp.KindGetBulk && maxSize > minPDUSize {
		reduced, out, err := d.reduce(resp, tb.Accepted, maxSize-minPDUSize)
		switch {
		case err == nil:
			d.countResponse(reduced)
			return out, true
		case !errors.As(err, &tb):
			log.Warn("failed to encode reduced response", "err", err)
			return nil, false
		}
	}

	tooBig := newTooBigResponse(req)
	out, err = d.cfg.Codec.Encode(tooBig, maxSize)
	if err != nil {
		d.stats.Inc(stats.SilentDrops)
		log.Warn("dropping response, tooBig does not fit either", "limit", maxSize, "err", err)
		return nil, false
	}
	d.countResponse(tooBig)
	return out, true
}

// reduce shortens resp until it encodes within limit. It returns a
// *snmp.TooBigError when the list cannot shrink any further.
func (d *Dispatcher) reduce(resp *snmp.PDU, accepted, limit int) (*snmp.PDU, []byte, error) {
	trial := *resp
	for {
		n := reducedCount(accepted, len(trial.VarBinds))
		if n < 1 || n >= len(trial.VarBinds) {
			return nil, nil, &snmp.TooBigError{Accepted: accepted, Limit: limit}
		}
		trial.VarBinds = trial.VarBinds[:n]

		out, err := d.cfg.Codec.Encode(&trial, limit)
		if err == nil {
			return &trial, out, nil
		}
		var tb *snmp.TooBigError
		if !errors.As(err, &tb) {
			return nil, nil, err
		}
		accepted = tb.Accepted
	}
}

// reducedCount is the varbind count to try next given how many varbinds
// the codec managed to encode. Zero accepted means unknown.
func reducedCount(accepted, current int) int {
	switch {
	case accepted >= 3:
		return min(accepted-1, current)
	case accepted == 1:
		return 1
	default:
		return current / 2
	}
}

func (d *Dispatcher) countResponse(resp *snmp.PDU) {
	d.stats.Inc(stats.OutGetResponses)
	switch resp.ErrorStatus {
	case snmp.TooBig:
		d.stats.Inc(stats.OutTooBigs)
	case snmp.NoSuchName:
		d.stats.Inc(stats.OutNoSuchNames)
	case snmp.BadValue:
		d.stats.Inc(stats.OutBadValues)
	case snmp.GenErr:
		d.stats.Inc(stats.OutGenErrs)
	}
}
