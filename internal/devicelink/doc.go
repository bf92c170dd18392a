// Package devicelink is the display side of the fleet protocol.
//
// A Link holds one realtime websocket to fleetd using the credential minted
// at pairing. While connected it sends heartbeats carrying resource metrics,
// relays impressions and playback errors, and hands every command it
// receives (inline or drained from a heartbeat ack) to a Dispatcher.
//
// Lifecycle:
//
//	link, err := devicelink.New(devicelink.Options{...})
//	link.OnPairingRequired(func() { ... })
//	go link.Run(ctx)
//	link.Connect(cred) // after pairing completes
//
// A rejected credential is deleted from disk and the link goes quiet until a
// new one is supplied with Connect.
//
// PairingClient speaks the public pairing endpoints used before a credential
// exists.
package devicelink
