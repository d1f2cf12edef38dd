package endpoint

import (
	context "context"
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"
)

// MockMetadataSource is a hand-written gomock-style double for
// MetadataSource, following the same shape `mockgen` would produce.
type MockMetadataSource struct {
	ctrl     *gomock.Controller
	recorder *MockMetadataSourceMockRecorder
}

type MockMetadataSourceMockRecorder struct {
	mock *MockMetadataSource
}

func NewMockMetadataSource(ctrl *gomock.Controller) *MockMetadataSource {
	m := &MockMetadataSource{ctrl: ctrl}
	m.recorder = &MockMetadataSourceMockRecorder{m}
	return m
}

func (m *MockMetadataSource) EXPECT() *MockMetadataSourceMockRecorder {
	return m.recorder
}

func (m *MockMetadataSource) ServerMetadata(ctx context.Context, issuer string) (map[string]any, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ServerMetadata", ctx, issuer)
	ret0, _ := ret[0].(map[string]any)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

func (mr *MockMetadataSourceMockRecorder) ServerMetadata(ctx, issuer any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ServerMetadata",
		reflect.TypeOf((*MockMetadataSource)(nil).ServerMetadata), ctx, issuer)
}
