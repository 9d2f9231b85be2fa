// Package timerpb holds the wire representation of the timer service.
//
// The service is described by hand with grpc.ServiceDesc and exchanges
// protobuf well-known types only: ids travel as StringValue, durations as
// Duration and timer records as Struct, encoded by the codec package.
package timerpb
