package audit

import "strings"

// MethodResource is the audit resource derived from a gRPC full method name.
type MethodResource struct {
	ResourceType string
	Method       string
}

// ParseFullMethod splits a gRPC full method (e.g. /grpc.health.v1.Health/Check) into a resource type
// ("health") and method name ("Check") for audit records written by the gRPC surface.
func ParseFullMethod(fullMethod string) MethodResource {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return MethodResource{ResourceType: "unknown", Method: "unknown"}
	}
	method := fullMethod[slash+1:]
	service := strings.TrimPrefix(fullMethod[:slash], "/")
	if dot := strings.LastIndex(service, "."); dot >= 0 {
		service = service[dot+1:]
	}
	return MethodResource{ResourceType: serviceToResource(service), Method: method}
}

func serviceToResource(serviceName string) string {
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}
