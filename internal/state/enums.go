package state

// Wire-visible enumerations. The integer values are part of the JSON
// contract with the browser client and must not be reordered.

// UIState identifies which screen the client should be showing.
type UIState int32

const (
	UIActiveRun      UIState = 0
	UIActiveCalib    UIState = 1
	UIInstructions   UIState = 2
	UIHome           UIState = 3
	UISavedSessions  UIState = 4
	UIRunOptions     UIState = 5
	UIHardwareChecks UIState = 6
	UICalibOptions   UIState = 7
	UIPendingTrain   UIState = 8
	UISettings       UIState = 9
	UINone           UIState = 10
)

func (s UIState) String() string {
	switch s {
	case UIActiveRun:
		return "Active_Run"
	case UIActiveCalib:
		return "Active_Calib"
	case UIInstructions:
		return "Instructions"
	case UIHome:
		return "Home"
	case UISavedSessions:
		return "Saved_Sessions"
	case UIRunOptions:
		return "Run_Options"
	case UIHardwareChecks:
		return "Hardware_Checks"
	case UICalibOptions:
		return "Calib_Options"
	case UIPendingTrain:
		return "Pending_Training"
	case UISettings:
		return "Settings"
	case UINone:
		return "None"
	}
	return "Unknown"
}

// TestFreq labels the stimulus frequency of a calibration block.
type TestFreq int32

const (
	FreqNone TestFreq = 0
	Freq8Hz  TestFreq = 1
	Freq9Hz  TestFreq = 2
	Freq10Hz TestFreq = 3
	Freq11Hz TestFreq = 4
	Freq12Hz TestFreq = 5
	Freq20Hz TestFreq = 6
	Freq25Hz TestFreq = 7
	Freq30Hz TestFreq = 8
	Freq35Hz TestFreq = 9
)

// Hz returns the frequency in hertz, or 0 for FreqNone.
func (f TestFreq) Hz() int {
	switch f {
	case Freq8Hz:
		return 8
	case Freq9Hz:
		return 9
	case Freq10Hz:
		return 10
	case Freq11Hz:
		return 11
	case Freq12Hz:
		return 12
	case Freq20Hz:
		return 20
	case Freq25Hz:
		return 25
	case Freq30Hz:
		return 30
	case Freq35Hz:
		return 35
	}
	return 0
}

// FreqFromHz maps hertz back to the enum, FreqNone if unmapped.
func FreqFromHz(hz int) TestFreq {
	switch hz {
	case 8:
		return Freq8Hz
	case 9:
		return Freq9Hz
	case 10:
		return Freq10Hz
	case 11:
		return Freq11Hz
	case 12:
		return Freq12Hz
	case 20:
		return Freq20Hz
	case 25:
		return Freq25Hz
	case 30:
		return Freq30Hz
	case 35:
		return Freq35Hz
	}
	return FreqNone
}

// UIPopup is a modal value carried in an atomic slot. It does not itself
// drive transitions except via ack/cancel events.
type UIPopup int32

const (
	PopupNone                UIPopup = 0
	PopupMustCalibBeforeRun  UIPopup = 1
	PopupModelFailedToLoad   UIPopup = 2
	PopupTooManyBadWindows   UIPopup = 3
	PopupInvalidCalibOptions UIPopup = 4
	PopupConfirmOverwrite    UIPopup = 5
	PopupConfirmHighFreqOk   UIPopup = 6
	PopupTrainJobFailed      UIPopup = 7
)

// UIEvent is a tagged input to the stimulus controller state machine.
// External events arrive through the atomic event slot; internal events are
// synthesized by the controller itself.
type UIEvent int32

const (
	EvNone UIEvent = iota
	EvConnectionSuccessful
	EvStimTimeout
	EvStimTimeoutEndCalib
	EvStartCalib
	EvStartCalibFromOptions
	EvStartRun
	EvStartDefault
	EvShowSessions
	EvSelectSession
	EvSelectNewSession
	EvExit
	EvAckPopup
	EvCancelPopup
	EvHardwareChecks
	EvSettings
	EvModelReady
	EvTrainingFailed
)

func (e UIEvent) String() string {
	switch e {
	case EvNone:
		return "None"
	case EvConnectionSuccessful:
		return "ConnectionSuccessful"
	case EvStimTimeout:
		return "StimControllerTimeout"
	case EvStimTimeoutEndCalib:
		return "StimControllerTimeoutEndCalib"
	case EvStartCalib:
		return "UserPushesStartCalib"
	case EvStartCalibFromOptions:
		return "UserPushesStartCalibFromOptions"
	case EvStartRun:
		return "UserPushesStartRun"
	case EvStartDefault:
		return "UserPushesStartDefault"
	case EvShowSessions:
		return "UserPushesSessions"
	case EvSelectSession:
		return "UserSelectsSession"
	case EvSelectNewSession:
		return "UserSelectsNewSession"
	case EvExit:
		return "UserPushesExit"
	case EvAckPopup:
		return "UserAcksPopup"
	case EvCancelPopup:
		return "UserCancelsPopup"
	case EvHardwareChecks:
		return "UserPushesHardwareChecks"
	case EvSettings:
		return "UserPushesSettings"
	case EvModelReady:
		return "ModelReady"
	case EvTrainingFailed:
		return "TrainingFailed"
	}
	return "Unknown"
}

// EpilepsyRisk is the disclaimer-form answer from the calibration options
// screen. EpilepsyStandard restricts stimulation to the low-frequency set.
type EpilepsyRisk int32

const (
	EpilepsyUnknown    EpilepsyRisk = 0
	EpilepsyStandard   EpilepsyRisk = 1
	EpilepsyHighFreqOk EpilepsyRisk = 2
)
