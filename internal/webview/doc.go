// Package webview defines the domain types, collaborator interfaces, and error
// taxonomy shared by the proxy, session, export, and delivery subsystems.
package webview
