package purchase

// NextAction derives the client hint for the current state of the process.
func (p *Process) NextAction() NextAction {
	switch p.state {
	case StateValid:
		if p.fraud.InitCaptchaRequired() {
			return NextAction{Type: ActionValidateCaptcha}
		}
		return NextAction{Type: ActionRenderGateway}
	case StatePending:
		if p.redirectURL == "" {
			return NextAction{Type: ActionValidateCaptcha}
		}
		if p.authenticated {
			return NextAction{Type: ActionFinishProcess, Reason: "authenticated"}
		}
		tx, ok := p.PendingThreeD()
		if !ok {
			return NextAction{Type: ActionRedirectToURL, RedirectURL: p.redirectURL}
		}
		td := &ThreeDAction{
			Version:             tx.ThreeD.Version,
			ACS:                 tx.ThreeD.ACS,
			PaReq:               tx.ThreeD.PaReq,
			DeviceCollectionURL: tx.ThreeD.DeviceCollectionURL,
			DeviceCollectionJWT: tx.ThreeD.DeviceCollectionJWT,
		}
		if tx.ThreeD.ACS == "" {
			return NextAction{Type: ActionDeviceDetection3D, RedirectURL: p.redirectURL, ThreeD: td}
		}
		return NextAction{Type: ActionAuthenticate3D, RedirectURL: p.redirectURL, ThreeD: td}
	case StateProcessing:
		return NextAction{Type: ActionFinishProcess, Reason: "processing"}
	default:
		return NextAction{Type: ActionFinishProcess, Reason: p.declineReason}
	}
}
