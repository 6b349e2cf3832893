// Package relay is the connection registry and message routing engine.
//
// Every live connection, device agent or dashboard, is registered under an
// opaque Handle and driven by its own Session. The Router delivers
// point-to-point messages (commands) to the connection bound to a device;
// the Broadcaster fans status events out to every connection. The Hub ties
// these to the device, command and activity stores and owns the rules that
// keep stored device status consistent with live connections:
//
//   - a device is marked online when its connection authenticates
//   - it is marked offline when that connection closes or a command cannot
//     be delivered to it, through a compare-and-set so racing paths produce
//     a single transition and a single broadcast
//   - status and info updates for one device are serialised by a per-device
//     lock; different devices never contend
//
// Duplicate device connections follow last-bind-wins: the newer connection
// becomes addressable and the relay closes the older one, whose close does
// not mark the device offline.
//
// Commands that are never answered stay pending; there is no timeout.
package relay
