package control

import (
	"cleanee/protocol"
)

// pickup runs the grab sequence: retract, wait, extend, wait, return to
// rest. It runs on its own goroutine without mu; pickingUp keeps other
// motion out until it returns.
func (m *Machine) pickup() {
	m.log.Info().Msg("pickup started")
	arm := m.robot.Arm
	if arm == nil {
		m.log.Warn().Msg("pickup requested without an arm")
		return
	}
	m.mu.Lock()
	rest := m.restAngle
	m.mu.Unlock()

	steps := []float64{m.cfg.ArmRetractAngle, m.cfg.ArmExtendAngle}
	for _, angle := range steps {
		if err := arm.MoveTo(angle, m.cfg.ArmSpeed); err != nil {
			m.log.Error().Err(err).Float64("angle", angle).Msg("pickup arm move")
			return
		}
		m.sleep(m.cfg.ArmPause)
	}
	if err := arm.MoveTo(rest, m.cfg.ArmSpeed); err != nil {
		m.log.Error().Err(err).Msg("pickup return to rest")
		return
	}
	m.log.Info().Msg("pickup finished")
}

// arm handles the arm side-channel commands.
func (m *Machine) arm(inst protocol.Instruction) {
	arm := m.robot.Arm
	if arm == nil {
		m.log.Warn().Str("instruction", inst.String()).Msg("no arm attached")
		return
	}
	speed := m.cfg.ArmSpeed
	if s, ok := inst.Speed(); ok {
		speed = s
	}

	var err error
	switch inst.Kind() {
	case protocol.KindArmIn:
		err = arm.Run(-speed)
	case protocol.KindArmOut:
		err = arm.Run(speed)
	case protocol.KindArmStop:
		err = arm.Stop()
	case protocol.KindArmGrab:
		err = arm.MoveTo(m.cfg.ArmGrabAngle, speed)
	case protocol.KindArmResetPosition:
		m.mu.Lock()
		rest := m.restAngle
		m.mu.Unlock()
		err = arm.MoveTo(rest, speed)
	case protocol.KindArmSetPosition:
		var angle float64
		if angle, err = arm.Angle(); err == nil {
			m.mu.Lock()
			m.restAngle = angle
			m.mu.Unlock()
		}
	default:
		m.log.Debug().Str("instruction", inst.String()).Msg("unhandled instruction")
		return
	}
	if err != nil {
		m.log.Error().Err(err).Str("instruction", inst.String()).Msg("arm command")
	}
}
