// Package subscription tracks the topics the application wants to receive.
//
// The registry is the only record of desired subscriptions. It is
// independent of the socket: entries survive disconnects and are replayed in
// full after every successful connect.
package subscription
