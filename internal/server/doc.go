// Package server implements a multi-room text chat server.
//
// Clients connect over TCP, or over WebSocket through the optional HTTP
// gateway, and each connection becomes a Session. The first frame a session
// sends is its nickname; after that it lives in a room, starting with the
// lobby, and may chat, whisper, create, enter and leave rooms.
//
// The Registry owns every session and room under a single lock. Broadcast and
// Whisper snapshot recipients under that lock and then queue frames on each
// session's bounded send queue, which is drained by that session's write pump.
// Server ties the acceptor, gateway and sessions together and handles
// shutdown.
package server
