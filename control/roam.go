package control

import "time"

// tickRoam runs one step of the roaming sub-machine. Caller holds mu.
func (m *Machine) tickRoam(now time.Time) {
	switch m.roam {
	case RoamStopped:
		if m.safe() {
			m.startMoving()
		}
	case RoamMoving:
		if !m.safe() {
			m.log.Info().Msg("obstacle detected, turning")
			m.startTurn(now, m.pickDirection())
		}
	case RoamTurning:
		if now.Before(m.turnDeadline) {
			return
		}
		if m.safe() {
			m.startMoving()
			return
		}
		m.log.Info().Str("direction", m.turnDir.String()).Msg("still blocked after turn")
		m.startTurn(now, m.turnDir)
	}
}

// safe reads the sensor. Errors count as unsafe.
func (m *Machine) safe() bool {
	cm, err := m.robot.Sensor.Distance()
	if err != nil {
		m.log.Warn().Err(err).Msg("distance sensor")
		return false
	}
	return cm > m.cfg.SafeDistance
}

func (m *Machine) pickDirection() Direction {
	if m.rand() < 0.5 {
		return DirLeft
	}
	return DirRight
}

func (m *Machine) startMoving() {
	m.turnDir = DirNone
	m.setRoam(RoamMoving)
	m.move(0, m.cfg.RoamSpeed)
}

// startTurn brakes, then rotates in place for a duration drawn from
// [TurnMin, TurnMax).
func (m *Machine) startTurn(now time.Time, dir Direction) {
	m.brake()
	m.turnDir = dir
	m.turnDeadline = now.Add(m.turnDuration())
	x := m.cfg.TurnSpeed
	if dir == DirLeft {
		x = -x
	}
	m.move(x, 0)
	// Re-entry emits even though the state name is unchanged.
	m.emitRoam(m.roam, RoamTurning)
	m.roam = RoamTurning
}

func (m *Machine) turnDuration() time.Duration {
	span := m.cfg.TurnMax - m.cfg.TurnMin
	if span <= 0 {
		return m.cfg.TurnMin
	}
	return m.cfg.TurnMin + time.Duration(m.rand()*float64(span))
}

// setRoam changes the roam state. Caller holds mu.
func (m *Machine) setRoam(next RoamState) {
	if m.roam == next {
		return
	}
	m.emitRoam(m.roam, next)
	m.roam = next
}

func (m *Machine) emitRoam(old, next RoamState) {
	m.log.Debug().Str("from", old.String()).Str("to", next.String()).Str("direction", m.turnDir.String()).Msg("roam state")
	if m.emitter != nil {
		m.emitter.EmitRoamStateChanged(old.String(), next.String(), m.turnDir.String())
	}
}
