// Package auth authenticates the two kinds of relay clients.
//
// Dashboard users log in with a username and password (Argon2id hashes) and
// receive a short-lived HS256 access token carrying their numeric user ID
// and role. Device agents receive a long-lived device token whose subject
// is their DeviceID; they present it in the relay AUTH message.
//
// Roles are a static, ordered set: viewer < operator < admin.
//   - viewer reads devices, commands and activity
//   - operator additionally dispatches commands
//   - admin additionally manages devices, registration codes and users
package auth
