package otp

// All scripts take the caller's clock as ARGV[1] in unix milliseconds so
// cooldowns, blocks and windows follow one time source.

// KEYS[1] challenge; ARGV: now, code, code ttl ms, cooldown ms.
// Returns 0 when issued, otherwise the remaining cooldown in ms.
const issueScript = `
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[3])
local cooldown = tonumber(ARGV[4])

local issued = tonumber(redis.call("HGET", KEYS[1], "issued_at"))
if issued and now - issued < cooldown then
  return cooldown - (now - issued)
end

redis.call("HSET", KEYS[1], "code", ARGV[2], "issued_at", now, "expires_at", now + ttl)
local keep = ttl
if cooldown > keep then
  keep = cooldown
end
redis.call("PEXPIRE", KEYS[1], keep)
return 0
`

// KEYS[1] challenge, KEYS[2] attempt state.
// ARGV: now, code, fail window ms, step count, then threshold and block ms per step.
// Returns {outcome, retry_ms}: 1 verified, 0 mismatch, -1 blocked.
const verifyScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[3])
local steps = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[2], "fails", "level", "blocked_until", "window_start")
local fails = tonumber(state[1]) or 0
local level = tonumber(state[2]) or 0
local blockedUntil = tonumber(state[3]) or 0
local windowStart = tonumber(state[4]) or now

if blockedUntil > now then
  return {-1, blockedUntil - now}
end

local challenge = redis.call("HMGET", KEYS[1], "code", "expires_at")
local expiresAt = tonumber(challenge[2]) or 0
if challenge[1] and challenge[1] == ARGV[2] and expiresAt > now then
  redis.call("DEL", KEYS[1], KEYS[2])
  return {1, 0}
end

if now - windowStart >= window then
  fails = 0
  level = 0
  windowStart = now
end
fails = fails + 1

local retry = 0
if steps > 0 then
  local step = level
  if step >= steps then
    step = steps - 1
  end
  local threshold = tonumber(ARGV[5 + step * 2])
  local blockMs = tonumber(ARGV[6 + step * 2])
  if fails >= threshold then
    if level < steps then
      level = level + 1
    end
    blockedUntil = now + blockMs
    retry = blockMs
  end
end

redis.call("HSET", KEYS[2], "fails", fails, "level", level, "blocked_until", blockedUntil, "window_start", windowStart)
local keep = windowStart + window - now
if blockedUntil - now > keep then
  keep = blockedUntil - now
end
redis.call("PEXPIRE", KEYS[2], keep)
return {0, retry}
`

// KEYS[1] token, KEYS[2] subject pointer; ARGV: token hash, subject, now,
// ttl ms, token key prefix. A previous token for the subject is revoked.
const issueResetScript = `
local previous = redis.call("GET", KEYS[2])
if previous then
  redis.call("DEL", ARGV[5] .. previous)
end
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
redis.call("HSET", KEYS[1], "subject", ARGV[2], "expires_at", now + ttl)
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SET", KEYS[2], ARGV[1], "PX", ttl)
return 1
`

// KEYS[1] token; ARGV: now, token hash, subject pointer prefix, challenge
// prefix, attempt state prefix. Returns the subject or false.
const consumeResetScript = `
local data = redis.call("HMGET", KEYS[1], "subject", "expires_at")
redis.call("DEL", KEYS[1])
local subject = data[1]
local expiresAt = tonumber(data[2]) or 0
if not subject or expiresAt <= tonumber(ARGV[1]) then
  return false
end

local pointer = ARGV[3] .. subject
if redis.call("GET", pointer) == ARGV[2] then
  redis.call("DEL", pointer)
end
redis.call("DEL", ARGV[4] .. subject, ARGV[5] .. subject)
return subject
`
