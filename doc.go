// Package roomsync wraps an external offline-first Store with a room-scoped
// real-time connection: duplex socket lifecycle, server-pushed poke
// playback, and optimistic mutation push, all driven by a single Client.
package roomsync
