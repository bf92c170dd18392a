// Package auth issues and verifies the tokens used across the fleet.
//
// Two token families exist, signed with separate HS256 secrets:
//   - Device credentials, minted when a display is paired. They carry the
//     display ID (subject), the hardware-derived device identifier, the
//     owning organisation and type "device", and live for about a year.
//   - User tokens, issued by the organisation auth layer in front of the
//     dashboard. fleetd only verifies them to learn the caller's
//     organisation, user ID and role.
//
// Roles map to permissions statically (see permissions.go); there is no
// database lookup on the request path.
package auth
