package dispatch

import (
	"context"

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/snmp"
)

// orphanAgent answers varbinds no registered agent owns.
var orphanAgent = &agent.Registration{Name: "orphan", Handler: orphanHandler{}}

type orphanHandler struct{}

func (orphanHandler) Get(_ context.Context, req *agent.Request) error {
	for i := range req.Entries {
		req.Entries[i].VarBind.Value = snmp.NoSuchObject
	}
	return nil
}

func (orphanHandler) GetNext(_ context.Context, req *agent.Request) error {
	for i := range req.Entries {
		req.Entries[i].VarBind.Value = snmp.EndOfMibView
	}
	return nil
}

func (h orphanHandler) GetBulk(ctx context.Context, req *agent.Request) error {
	return h.GetNext(ctx, req)
}

func (orphanHandler) CheckSet(_ context.Context, req *agent.Request) error {
	if len(req.Entries) == 0 {
		return nil
	}
	return snmp.NewStatusError(snmp.NoAccess, 0)
}

func (orphanHandler) CommitSet(context.Context, *agent.Request) error {
	return snmp.NewStatusError(snmp.CommitFailed, 0)
}
