package aws

import (
	"errors"
	"strings"

	ecrTypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	ecsTypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"
)

// ErrorKind groups provider errors by how a deployment step reacts to them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAlreadyExists
	KindNotFound
	KindAccessDenied
	KindThrottled
	KindTransient
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already exists"
	case KindNotFound:
		return "not found"
	case KindAccessDenied:
		return "access denied"
	case KindThrottled:
		return "throttled"
	case KindTransient:
		return "transient"
	case KindInvalid:
		return "invalid request"
	default:
		return "unknown"
	}
}

var errorCodeKinds = map[string]ErrorKind{
	"RepositoryAlreadyExistsException": KindAlreadyExists,
	"ResourceAlreadyExistsException":   KindAlreadyExists,
	"InvalidInstanceID.NotFound":       KindNotFound,
	"RepositoryNotFoundException":      KindNotFound,
	"ClusterNotFoundException":         KindNotFound,
	"ServiceNotFoundException":         KindNotFound,
	"AccessDeniedException":            KindAccessDenied,
	"AccessDenied":                     KindAccessDenied,
	"UnauthorizedOperation":            KindAccessDenied,
	"UnrecognizedClientException":      KindAccessDenied,
	"AuthFailure":                      KindAccessDenied,
	"ThrottlingException":              KindThrottled,
	"Throttling":                       KindThrottled,
	"RequestLimitExceeded":             KindThrottled,
	"TooManyRequestsException":         KindThrottled,
	"ServerException":                  KindTransient,
	"InternalError":                    KindTransient,
	"InternalFailure":                  KindTransient,
	"ServiceUnavailable":               KindTransient,
	"Unavailable":                      KindTransient,
	"InvalidParameterException":        KindInvalid,
	"InvalidParameterValue":            KindInvalid,
	"ValidationException":              KindInvalid,
	"ClientException":                  KindInvalid,
}

// Classify maps an AWS error onto an ErrorKind using the typed exceptions first
// and the smithy error code otherwise.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var repositoryExists *ecrTypes.RepositoryAlreadyExistsException
	if errors.As(err, &repositoryExists) {
		return KindAlreadyExists
	}
	// ECS reports a second CreateService with the same name as a parameter error.
	var invalidParameter *ecsTypes.InvalidParameterException
	if errors.As(err, &invalidParameter) {
		if strings.Contains(strings.ToLower(invalidParameter.ErrorMessage()), "not idempotent") {
			return KindAlreadyExists
		}
		return KindInvalid
	}
	var clusterNotFound *ecsTypes.ClusterNotFoundException
	if errors.As(err, &clusterNotFound) {
		return KindNotFound
	}
	var serviceNotFound *ecsTypes.ServiceNotFoundException
	if errors.As(err, &serviceNotFound) {
		return KindNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := errorCodeKinds[apiErr.ErrorCode()]; ok {
			return kind
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return KindTransient
		}
	}
	return KindUnknown
}

func IsAlreadyExists(err error) bool {
	return Classify(err) == KindAlreadyExists
}

func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}

// IsRetryable reports whether repeating the same call may succeed.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindThrottled, KindTransient:
		return true
	}
	return false
}
