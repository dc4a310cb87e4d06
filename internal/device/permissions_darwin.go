//go:build darwin

package device

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import "fmt"

const (
	permissionNotDetermined = 0
	permissionRestricted    = 1
	permissionDenied        = 2
	permissionAuthorized    = 3
)

// ensureMicAccess checks macOS microphone authorization before the stream
// is opened, prompting on first use.
func ensureMicAccess() error {
	status := int(C.checkMicrophonePermission())
	switch status {
	case permissionAuthorized:
		return nil
	case permissionNotDetermined:
		C.requestMicrophonePermission()
		return fmt.Errorf("%w: microphone authorization pending", ErrPermissionDenied)
	default:
		return fmt.Errorf("%w: microphone access denied in System Settings", ErrPermissionDenied)
	}
}
