// Package device stores the device agents known to the relay.
//
// A Device has two identities: an internal numeric ID assigned by the
// store, and the DeviceID string the agent presents when it connects.
// Everything outside the store addresses devices by DeviceID.
//
// Status (online/offline) is owned by the relay. It is changed only through
// SetStatusIf, a single-statement compare-and-set, so that a disconnect and a
// failed delivery racing each other produce one transition rather than two.
// Info reported by agents is merged with MergeInfo, also a single statement.
//
// Registration codes let an operator pre-authorise an agent: the agent
// redeems a code once, before it expires, and receives a device record.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	changed, err := repo.SetStatusIf(ctx, "D1", device.StatusOnline, device.StatusOffline)
package device
