package redis

import backend "github.com/redis/go-redis/v9"

// Script results: -1 record missing, 0 precondition failed, otherwise applied.

// advanceScript commits one answered step if the stored step still equals
// ARGV[1], the record is not terminal and ARGV[3] was not the last event.
// Non-empty ARGV[7] and ARGV[8] must match the stored instance and state.
// The answers hash inherits the record's remaining TTL.
//
// KEYS[1] record hash, KEYS[2] answers hash.
// ARGV: from_step, answer, event_id, to_state, to_status, updated_at, instance_id, from_state.
var advanceScript = backend.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'current_step', 'total_steps', 'status', 'last_event_id', 'instance_id', 'state')
if not cur[1] then
	return -1
end
local step = tonumber(cur[1])
if cur[3] == 'COMPLETED' or cur[3] == 'ABANDONED' then
	return 0
end
if step ~= tonumber(ARGV[1]) or step >= tonumber(cur[2]) then
	return 0
end
if ARGV[3] ~= '' and cur[4] == ARGV[3] then
	return 0
end
if (ARGV[7] ~= '' and cur[5] ~= ARGV[7]) or (ARGV[8] ~= '' and cur[6] ~= ARGV[8]) then
	return 0
end
step = step + 1
redis.call('HSET', KEYS[1], 'current_step', step, 'state', ARGV[4], 'status', ARGV[5], 'last_event_id', ARGV[3], 'updated_at', ARGV[6])
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[2], tostring(step), ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return step
`)

// transitionScript moves the record between states if the stored state
// still equals ARGV[1] and the record is not terminal.
//
// KEYS[1] record hash.
// ARGV: from_state, to_state, status, event_id, set_payload ("1"), payload, updated_at.
var transitionScript = backend.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'state', 'status')
if not cur[1] then
	return -1
end
if cur[2] == 'COMPLETED' or cur[2] == 'ABANDONED' then
	return 0
end
if cur[1] ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'status', ARGV[3], 'updated_at', ARGV[7])
if ARGV[4] ~= '' then
	redis.call('HSET', KEYS[1], 'last_event_id', ARGV[4])
end
if ARGV[5] == '1' then
	redis.call('HSET', KEYS[1], 'payload', ARGV[6])
end
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

// statusScript overwrites the status of an existing record.
//
// KEYS[1] record hash. ARGV: status, updated_at.
var statusScript = backend.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)
