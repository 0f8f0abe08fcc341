// internal/model/model.go
package model

// Tables lists every model managed by migrations, in creation order.
func Tables() []interface{} {
	return []interface{}{
		&Organization{},
		&User{},
		&Analysis{},
		&AgentOutput{},
		&UsageCounter{},
		&UsageLedger{},
		&SecurityEvent{},
	}
}
