package collector

import "context"

// ExternalToolBridge and PlatformQueryBridge are the two optional collectors
// the spec allows for host-specific extension (an external CLI tool query,
// or a platform-native API query) behind identical contracts to every other
// collector. Neither has a portable stdlib/gopsutil implementation, so both
// report unsupported until a host-specific adapter is registered in their
// place (spec §4.1: optional collectors, identical contract).

type ExternalToolBridge struct{}

func NewExternalToolBridge() *ExternalToolBridge { return &ExternalToolBridge{} }

func (b *ExternalToolBridge) Name() string { return "external_tool" }

func (b *ExternalToolBridge) Sample(ctx context.Context) (any, error) {
	return nil, &Failure{Reason: ReasonUnsupported, Detail: "no external tool adapter configured"}
}

type PlatformQueryBridge struct{}

func NewPlatformQueryBridge() *PlatformQueryBridge { return &PlatformQueryBridge{} }

func (b *PlatformQueryBridge) Name() string { return "platform_query" }

func (b *PlatformQueryBridge) Sample(ctx context.Context) (any, error) {
	return nil, &Failure{Reason: ReasonUnsupported, Detail: "no platform query adapter configured"}
}
