// Package webui serves the two browser pages of the chat relay.
//
// The end-user page at "/" opens a session, loads its history and listens on
// "/events". The operator console at "/operator?token=..." listens on
// "/operator/events", lists conversations from the snapshot and replies
// through "/operator/reply". Both pages are plain HTML from embedded templates
// plus the scripts in package assets.
package webui
