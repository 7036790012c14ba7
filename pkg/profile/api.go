/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package profile

type ID = string

// AgentPKP is the delegated key-pair the user controls through the registry
// contract. It is minted lazily, once per user, and never destroyed.
type AgentPKP struct {
	TokenID    string `json:"tokenId"`
	PublicKey  string `json:"publicKey"`
	EthAddress string `json:"ethAddress"`
}

// App describes the requesting application. Created and updated externally;
// read-only here.
type App struct {
	ID                ID       `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	ContactEmail      string   `json:"contactEmail,omitempty"`
	ManagementWallet  string   `json:"managementWallet"`
	LatestVersion     int      `json:"latestVersion"`
	Delegatees        []string `json:"delegatees"`
	ToolIdentifiers   []string `json:"toolIdentifiers"`
	PolicyIdentifiers []string `json:"policyIdentifiers,omitempty"`
}

// Version is an immutable snapshot of an application's requested capability
// set at a given version number. Once published it never changes; the
// consent flow always resolves "latest" at request time.
type Version struct {
	Number            int      `json:"number"`
	ToolIdentifiers   []string `json:"toolIdentifiers"`
	PolicyIdentifiers []string `json:"policyIdentifiers"`
}

// Parameter is one named policy parameter with its schema.
type Parameter struct {
	Name         string `json:"paramName"`
	DefaultValue string `json:"defaultValue"`
	ValueType    string `json:"valueType"`
}

// Role is a tool-policy descriptor with its parameter schema, resolved from
// the app registry by management wallet and role id.
type Role struct {
	ID         string      `json:"roleId"`
	Name       string      `json:"roleName,omitempty"`
	Parameters []Parameter `json:"parameters"`
}
