// Package connection manages the desk's streaming connections.
//
// A Feed owns one websocket endpoint:
//   - Dials in the background and redials forever after any close or error
//   - Waits reconnect_delay before the first redial, doubling up to
//     reconnect_max_delay (equal values give a fixed delay)
//   - Delivers each well-formed JSON frame to its handler; other frames are dropped
//   - Reports connecting/connected/reconnecting/closed transitions
//
// The Manager shares one Feed per endpoint between any number of
// subscribers, opening it on first Acquire and closing it on last Release.
package connection
