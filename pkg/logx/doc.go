// Package logx is a thin zerolog wrapper.
//
// Loggers are values with fixed fields (With) that follow the Service's
// current sinks, so a config reload changes level and outputs without
// handing out new loggers. Console lines go to stderr with a short
// caller; the optional file sink keeps JSON.
package logx
