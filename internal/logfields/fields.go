/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logfields

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log Fields.
const (
	FieldAppID         = "appID"
	FieldAppVersion    = "appVersion"
	FieldAudience      = "audience"
	FieldDelegatee     = "delegatee"
	FieldDuration      = "duration"
	FieldEvent         = "event"
	FieldFlowState     = "flowState"
	FieldPKPTokenID    = "pkpTokenID"
	FieldReconcileStep = "reconcileStep"
	FieldSleep         = "sleep"
	FieldToolID        = "toolID"
	FieldTxHash        = "txHash"
	FieldTxID          = "txID"
	FieldUserLogLevel  = "userLogLevel"
	FieldWrites        = "writes"
)

// WithAppID sets the AppID field.
func WithAppID(appID string) zap.Field {
	return zap.String(FieldAppID, appID)
}

// WithAppVersion sets the AppVersion field.
func WithAppVersion(version int) zap.Field {
	return zap.Int(FieldAppVersion, version)
}

// WithAudience sets the Audience field.
func WithAudience(audience string) zap.Field {
	return zap.String(FieldAudience, audience)
}

// WithDelegatee sets the Delegatee field.
func WithDelegatee(delegatee string) zap.Field {
	return zap.String(FieldDelegatee, delegatee)
}

// WithDuration sets the Duration field.
func WithDuration(value time.Duration) zap.Field {
	return zap.Duration(FieldDuration, value)
}

// WithEvent sets the Event field.
func WithEvent(event interface{}) zap.Field {
	return zap.Inline(NewObjectMarshaller(FieldEvent, event))
}

// WithFlowState sets the FlowState field.
func WithFlowState(state string) zap.Field {
	return zap.String(FieldFlowState, state)
}

// WithPKPTokenID sets the PKPTokenID field.
func WithPKPTokenID(tokenID string) zap.Field {
	return zap.String(FieldPKPTokenID, tokenID)
}

// WithReconcileStep sets the ReconcileStep field.
func WithReconcileStep(step string) zap.Field {
	return zap.String(FieldReconcileStep, step)
}

// WithSleep sets the sleep field.
func WithSleep(sleep interface{}) zap.Field {
	return zap.Any(FieldSleep, sleep)
}

// WithToolID sets the ToolID field.
func WithToolID(toolID string) zap.Field {
	return zap.String(FieldToolID, toolID)
}

// WithTxHash sets the TxHash field.
func WithTxHash(txHash string) zap.Field {
	return zap.String(FieldTxHash, txHash)
}

// WithTxID sets the TxID field.
func WithTxID(txID string) zap.Field {
	return zap.String(FieldTxID, txID)
}

// WithUserLogLevel sets the UserLogLevel field.
func WithUserLogLevel(level string) zap.Field {
	return zap.String(FieldUserLogLevel, level)
}

// WithWrites sets the Writes field.
func WithWrites(writes int) zap.Field {
	return zap.Int(FieldWrites, writes)
}

// ObjectMarshaller uses reflection to marshal an object's fields.
type ObjectMarshaller struct {
	key string
	obj interface{}
}

// NewObjectMarshaller returns a new ObjectMarshaller.
func NewObjectMarshaller(key string, obj interface{}) *ObjectMarshaller {
	return &ObjectMarshaller{key: key, obj: obj}
}

// MarshalLogObject marshals the object's fields.
func (m *ObjectMarshaller) MarshalLogObject(e zapcore.ObjectEncoder) error {
	return e.AddReflected(m.key, m.obj)
}
